package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// chatSink delivers pipeline artifacts straight into the chat that
// requested them. The files it is handed live inside the pipeline's
// workspace, so uploads must complete before the run terminates -
// which they do, as Send blocks until Telegram has consumed the file.
type chatSink struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

func newChatSink(api *tgbotapi.BotAPI, chatID int64) *chatSink {
	return &chatSink{api: api, chatID: chatID}
}

func (sink *chatSink) DeliverVideo(path string, caption string) error {
	video := tgbotapi.NewVideo(sink.chatID, tgbotapi.FilePath(path))
	video.Caption = caption

	_, err := sink.api.Send(video)
	return err
}

func (sink *chatSink) DeliverAudio(path string, title string, artist string) error {
	audio := tgbotapi.NewAudio(sink.chatID, tgbotapi.FilePath(path))
	audio.Title = title
	audio.Performer = artist

	_, err := sink.api.Send(audio)
	return err
}

func (sink *chatSink) DeliverText(text string) error {
	for _, chunk := range chunkMessage(text) {
		if _, err := sink.api.Send(tgbotapi.NewMessage(sink.chatID, chunk)); err != nil {
			return err
		}
	}

	return nil
}
