package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// fileSink delivers pipeline artifacts for one ingested file into the
// output directory, named after the source file. Artifacts must be
// copied out rather than moved, as the pipeline removes its workspace
// once the run terminates.
type fileSink struct {
	outputDirPath string
	sourceName    string
}

func newFileSink(outputDirPath string, sourcePath string) *fileSink {
	base := filepath.Base(sourcePath)
	return &fileSink{
		outputDirPath: outputDirPath,
		sourceName:    strings.TrimSuffix(base, filepath.Ext(base)),
	}
}

func (sink *fileSink) DeliverVideo(path string, _ string) error {
	return sink.copyFile(path, sink.sourceName+filepath.Ext(path))
}

func (sink *fileSink) DeliverAudio(path string, title string, artist string) error {
	return sink.copyFile(path, fmt.Sprintf("%s - %s%s", title, artist, filepath.Ext(path)))
}

func (sink *fileSink) DeliverText(text string) error {
	return os.WriteFile(filepath.Join(sink.outputDirPath, sink.sourceName+".txt"), []byte(text), 0o644)
}

func (sink *fileSink) copyFile(sourcePath string, destName string) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open artifact %s: %w", sourcePath, err)
	}
	defer source.Close()

	destPath := filepath.Join(sink.outputDirPath, destName)
	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create artifact %s: %w", destPath, err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, source); err != nil {
		return fmt.Errorf("failed to copy artifact to %s: %w", destPath, err)
	}

	return nil
}
