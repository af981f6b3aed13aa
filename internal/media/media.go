package media

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the remote source refused to, or was unable
	// to, provide the requested media. This is a normal negative outcome
	// (many sites block unauthenticated scraping) and callers should
	// suggest a direct file upload instead.
	ErrNotFound = errors.New("no media could be retrieved from the source")

	// ErrUnsupportedSource indicates the URL scheme is not one the
	// underlying extractor understands.
	ErrUnsupportedSource = errors.New("source URL scheme is not supported")
)

type SourceKind int

const (
	SourceURL SourceKind = iota
	SourceLocalFile
)

func (e SourceKind) String() string {
	return []string{"URL", "LOCAL_FILE"}[e]
}

// Source is a single user-submitted media reference; either a remote
// URL, or the path of a file that has already been received. A Source
// is immutable once constructed and is consumed by exactly one
// pipeline run.
type Source struct {
	kind SourceKind
	ref  string
}

func NewURLSource(url string) Source {
	return Source{kind: SourceURL, ref: url}
}

func NewLocalSource(path string) Source {
	return Source{kind: SourceLocalFile, ref: path}
}

func (source Source) Kind() SourceKind { return source.kind }
func (source Source) Ref() string      { return source.ref }

// DownloadResult describes a media file which has been fetched to the
// local filesystem. The path it holds is owned by whichever component
// most recently produced the result; ownership transfers to the
// pipeline coordinator, which is solely responsible for deleting it.
type DownloadResult struct {
	Path            string
	Title           string
	DurationSeconds float64
	ThumbnailURL    string
}

// RecognitionMatch is the best-effort top candidate returned by the
// fingerprinting service. No ranking of alternatives is retained.
type RecognitionMatch struct {
	Title       string
	Artist      string
	ExternalURL string
}

func (match *RecognitionMatch) Label() string {
	return fmt.Sprintf("%s - %s", match.Title, match.Artist)
}

// ValidationOutcome is the result of checking a local file against a
// size/duration policy. It is produced fresh per check and never
// mutated afterwards. When the duration could not be determined,
// DurationSeconds is negative and the duration check was skipped.
type ValidationOutcome struct {
	Valid           bool
	Violations      []string
	SizeBytes       int64
	DurationSeconds float64
}
