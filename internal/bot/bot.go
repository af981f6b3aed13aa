// Package bot is the Telegram front-end: it receives links, uploads
// and song-name queries from chats, drives the pipeline, and delivers
// the resulting videos, tracks and transcripts back to the requesting
// chat.
package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/vortexbot/vortex/internal/database"
	"github.com/vortexbot/vortex/internal/pipeline"
	"github.com/vortexbot/vortex/internal/user"
	"github.com/vortexbot/vortex/pkg/logger"
)

var log = logger.Get("Bot")

type Config struct {
	Token string `yaml:"token" env:"BOT_TOKEN" env-required:"true"`

	// Telegram user ID of the operator; receives error notifications
	// and may request global usage stats. Zero disables both.
	AdminUserID int64 `yaml:"admin_user_id" env:"BOT_ADMIN_USER_ID"`

	// Where files uploaded to the bot are saved before being handed to
	// the pipeline (which takes ownership of them).
	DownloadDirPath string `yaml:"download_dir" env:"BOT_DOWNLOAD_DIR"`

	UpdateTimeoutSeconds int `yaml:"update_timeout_seconds" env:"BOT_UPDATE_TIMEOUT_SECONDS" env-default:"30"`
}

type (
	runner interface {
		RunURL(ctx context.Context, userID int64, mediaURL string, delivery pipeline.Delivery) pipeline.Outcome
		RunUpload(ctx context.Context, userID int64, path string, kind string, delivery pipeline.Delivery) pipeline.Outcome
		RunMusicDownload(ctx context.Context, userID int64, query string, delivery pipeline.Delivery) pipeline.Outcome
	}

	userStore interface {
		Record(db database.Queryable, id int64, firstName string, username string) error
		SavePhoneNumber(db database.Queryable, id int64, phoneNumber string) error
		Get(db database.Queryable, id int64) (*user.User, error)
		GetStats(db database.Queryable, userID int64) (*user.Stats, error)
		GetGlobalStats(db database.Queryable) (*user.GlobalStats, error)
	}
)

type service struct {
	api        *tgbotapi.BotAPI
	config     Config
	runner     runner
	store      userStore
	db         database.Queryable
	httpClient *http.Client
}

func New(config Config, runner runner, store userStore, db database.Queryable) (*service, error) {
	api, err := tgbotapi.NewBotAPI(config.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize with Telegram: %w", err)
	}

	log.Emit(logger.SUCCESS, "Authorized as @%s\n", api.Self.UserName)
	return &service{
		api:        api,
		config:     config,
		runner:     runner,
		store:      store,
		db:         db,
		httpClient: &http.Client{Timeout: time.Minute * 5},
	}, nil
}

// Run consumes the Telegram update stream until the context is
// cancelled. Each update is handled on its own goroutine so a slow
// pipeline run never blocks other chats.
func (service *service) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = service.config.UpdateTimeoutSeconds

	updates := service.api.GetUpdatesChan(updateConfig)
	go func() {
		<-ctx.Done()
		service.api.StopReceivingUpdates()
	}()

	for update := range updates {
		go service.handleUpdate(ctx, update)
	}

	return nil
}

func (service *service) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Emit(logger.ERROR, "Update handler panicked: %v\n", r)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		service.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		service.handleMessage(ctx, update.Message)
	}
}

func (service *service) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	from := message.From
	if from == nil {
		return
	}

	service.recordUser(from)
	chatID := message.Chat.ID

	switch {
	case message.IsCommand():
		service.handleCommand(message)
	case message.Contact != nil:
		service.handleContact(chatID, from.ID, message.Contact)
	case message.Audio != nil:
		service.handleFileUpload(ctx, chatID, from.ID, "audio", message.Audio.FileID)
	case message.Voice != nil:
		service.handleFileUpload(ctx, chatID, from.ID, "voice", message.Voice.FileID)
	case message.Video != nil:
		service.handleFileUpload(ctx, chatID, from.ID, "video", message.Video.FileID)
	case message.VideoNote != nil:
		service.handleFileUpload(ctx, chatID, from.ID, "video", message.VideoNote.FileID)
	case message.Text != "":
		service.handleText(ctx, chatID, from.ID, message.Text)
	}
}

func (service *service) handleCommand(message *tgbotapi.Message) {
	chatID := message.Chat.ID

	switch message.Command() {
	case "start", "help":
		welcome := tgbotapi.NewMessage(chatID, welcomeMessage)
		if keyboard := service.contactRequestKeyboard(message.From.ID); keyboard != nil {
			welcome.ReplyMarkup = keyboard
		}
		service.send(welcome)
	case "stats":
		service.handleStats(chatID, message.From.ID)
	default:
		service.reply(chatID, "I don't know that command - try /help.")
	}
}

// contactRequestKeyboard returns a one-time contact-sharing keyboard
// for users who haven't shared a phone number yet, nil otherwise.
func (service *service) contactRequestKeyboard(userID int64) *tgbotapi.ReplyKeyboardMarkup {
	record, err := service.store.Get(service.db, userID)
	if err != nil || record.PhoneNumber != nil {
		return nil
	}

	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButtonContact("Share my contact"),
		),
	)
	keyboard.OneTimeKeyboard = true
	keyboard.ResizeKeyboard = true

	return &keyboard
}

func (service *service) handleStats(chatID int64, userID int64) {
	if service.config.AdminUserID != 0 && userID == service.config.AdminUserID {
		stats, err := service.store.GetGlobalStats(service.db)
		if err != nil {
			log.Emit(logger.ERROR, "Failed to fetch global stats: %v\n", err)
			service.reply(chatID, "Couldn't fetch stats right now.")
			return
		}

		service.reply(chatID, renderGlobalStats(stats))
		return
	}

	stats, err := service.store.GetStats(service.db, userID)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to fetch stats for user %d: %v\n", userID, err)
		service.reply(chatID, "Couldn't fetch stats right now.")
		return
	}

	service.reply(chatID, renderUserStats(stats))
}

func (service *service) handleContact(chatID int64, userID int64, contact *tgbotapi.Contact) {
	// Users can forward other people's contacts; only store their own.
	if contact.UserID != userID {
		return
	}

	if err := service.store.SavePhoneNumber(service.db, userID, contact.PhoneNumber); err != nil {
		log.Emit(logger.WARNING, "Failed to save phone number for user %d: %v\n", userID, err)
	}

	confirmation := tgbotapi.NewMessage(chatID, "Thanks! Now send me a link or a file.")
	confirmation.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	service.send(confirmation)
}

// handleText routes plain text: links go through the video fetch flow,
// anything else is treated as a song-name search.
func (service *service) handleText(ctx context.Context, chatID int64, userID int64, text string) {
	text = strings.TrimSpace(text)
	service.sendTyping(chatID)

	var outcome pipeline.Outcome
	if isWebURL(text) {
		outcome = service.runner.RunURL(ctx, userID, text, newChatSink(service.api, chatID))
	} else {
		outcome = service.runner.RunMusicDownload(ctx, userID, text, newChatSink(service.api, chatID))
	}

	service.replyOutcome(chatID, outcome)
}

// handleFileUpload pulls the uploaded file out of Telegram's file
// store to local disk and hands it to the pipeline, which owns (and
// removes) it from that point on.
func (service *service) handleFileUpload(ctx context.Context, chatID int64, userID int64, kind string, fileID string) {
	service.sendTyping(chatID)

	path, err := service.downloadTelegramFile(ctx, fileID)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to download %s upload from Telegram: %v\n", kind, err)
		service.reply(chatID, "I couldn't fetch that file from Telegram. Please try again.")
		service.notifyOperator(fmt.Sprintf("Telegram file download failed for user %d: %v", userID, err))
		return
	}

	outcome := service.runner.RunUpload(ctx, userID, path, kind, newChatSink(service.api, chatID))
	service.replyOutcome(chatID, outcome)
}

func (service *service) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if _, err := service.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		log.Emit(logger.WARNING, "Failed to answer callback query: %v\n", err)
	}

	if callback.Message == nil || callback.From == nil {
		return
	}

	chatID := callback.Message.Chat.ID
	if query, ok := strings.CutPrefix(callback.Data, downloadMusicCallbackPrefix); ok {
		service.sendTyping(chatID)
		outcome := service.runner.RunMusicDownload(ctx, callback.From.ID, query, newChatSink(service.api, chatID))
		service.replyOutcome(chatID, outcome)
	}
}

func (service *service) downloadTelegramFile(ctx context.Context, fileID string) (string, error) {
	file, err := service.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(service.api.Token), nil)
	if err != nil {
		return "", err
	}

	response, err := service.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download file %s: status %s", fileID, response.Status)
	}

	if err := os.MkdirAll(service.config.DownloadDirPath, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(service.config.DownloadDirPath, fmt.Sprintf("upload-%s%s", uuid.New(), filepath.Ext(file.FilePath)))
	dest, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dest.Close()

	if _, err := io.Copy(dest, response.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to save file %s: %w", fileID, err)
	}

	return path, nil
}

func (service *service) recordUser(from *tgbotapi.User) {
	if err := service.store.Record(service.db, from.ID, from.FirstName, from.UserName); err != nil {
		log.Emit(logger.WARNING, "Failed to record user %d: %v\n", from.ID, err)
	}
}

// replyOutcome renders the terminal outcome into the chat, chunking
// oversized transcripts and attaching the download keyboard to the
// final chunk.
func (service *service) replyOutcome(chatID int64, outcome pipeline.Outcome) {
	if outcome.Kind == pipeline.PipelineError {
		service.notifyOperator(fmt.Sprintf("Pipeline error in chat %d", chatID))
	}

	chunks := chunkMessage(renderOutcome(outcome))
	for i, chunk := range chunks {
		message := tgbotapi.NewMessage(chatID, chunk)
		if i == len(chunks)-1 {
			if keyboard := outcomeKeyboard(outcome); keyboard != nil {
				message.ReplyMarkup = keyboard
			}
		}

		service.send(message)
	}
}

func (service *service) reply(chatID int64, text string) {
	service.send(tgbotapi.NewMessage(chatID, text))
}

func (service *service) send(message tgbotapi.Chattable) {
	if _, err := service.api.Send(message); err != nil {
		log.Emit(logger.ERROR, "Failed to send message: %v\n", err)
	}
}

func (service *service) sendTyping(chatID int64) {
	if _, err := service.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		log.Emit(logger.VERBOSE, "Failed to send typing action: %v\n", err)
	}
}

func (service *service) notifyOperator(text string) {
	if service.config.AdminUserID == 0 {
		return
	}

	if _, err := service.api.Send(tgbotapi.NewMessage(service.config.AdminUserID, text)); err != nil {
		log.Emit(logger.WARNING, "Failed to notify operator: %v\n", err)
	}
}

func isWebURL(text string) bool {
	parsed, err := url.Parse(text)
	if err != nil {
		return false
	}

	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
