package plugin

import (
	"io"
	"time"
)

// FileToUpload hands one local file to an uploading plugin. The
// orchestrator fills the callbacks; plugins drive them so status and
// per-file accounting happen at the moment of transfer.
type FileToUpload struct {
	// Rel is the slash-separated workspace path, also the remote
	// placement below the target's base directory.
	Rel     string
	Name    string
	Size    int64
	ModTime time.Time

	// Open returns the file content. Called once per transfer attempt.
	Open func() (io.ReadCloser, error)
	// BeforeUpload fires right before the plugin writes to destination.
	BeforeUpload func(destination string)
	// UploadCompleted fires with the per-file result, once per plugin
	// pass.
	UploadCompleted func(err error)
}

// Content is the nil-safe accessor plugins use.
func (f *FileToUpload) Content() (io.ReadCloser, error) {
	if f.Open == nil {
		return nil, ErrNoContent
	}
	return f.Open()
}

// ReportStart announces the transfer destination.
func (f *FileToUpload) ReportStart(destination string) {
	if f.BeforeUpload != nil {
		f.BeforeUpload(destination)
	}
}

// ReportDone records the per-file result.
func (f *FileToUpload) ReportDone(err error) {
	if f.UploadCompleted != nil {
		f.UploadCompleted(err)
	}
}

// FileToDownload asks a downloading plugin for one remote file. The
// plugin streams content into Write; the orchestrator lands it in the
// workspace.
type FileToDownload struct {
	Rel  string
	Name string

	// Write stores the downloaded content locally.
	Write func(r io.Reader) error
	// BeforeDownload fires right before the plugin reads source.
	BeforeDownload func(source string)
	// DownloadCompleted fires with the per-file result, once per plugin
	// pass.
	DownloadCompleted func(err error)
}

// Store is the nil-safe sink plugins use.
func (f *FileToDownload) Store(r io.Reader) error {
	if f.Write == nil {
		return ErrNoContent
	}
	return f.Write(r)
}

// ReportStart announces the transfer source.
func (f *FileToDownload) ReportStart(source string) {
	if f.BeforeDownload != nil {
		f.BeforeDownload(source)
	}
}

// ReportDone records the per-file result.
func (f *FileToDownload) ReportDone(err error) {
	if f.DownloadCompleted != nil {
		f.DownloadCompleted(err)
	}
}

// FileToDelete names one remote file to remove.
type FileToDelete struct {
	Rel  string
	Name string

	// BeforeDelete fires right before the plugin removes location.
	BeforeDelete func(location string)
	// DeleteCompleted fires with the per-file result, once per plugin
	// pass.
	DeleteCompleted func(err error)
}

// ReportStart announces the delete location.
func (f *FileToDelete) ReportStart(location string) {
	if f.BeforeDelete != nil {
		f.BeforeDelete(location)
	}
}

// ReportDone records the per-file result.
func (f *FileToDelete) ReportDone(err error) {
	if f.DeleteCompleted != nil {
		f.DeleteCompleted(err)
	}
}
