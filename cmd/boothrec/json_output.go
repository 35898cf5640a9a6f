package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"boothrec/internal/recordings"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type statusView struct {
	Config string      `json:"config"`
	Ready  bool        `json:"ready"`
	Checks []checkView `json:"checks"`
}

type checkView struct {
	Section  string `json:"section"`
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional"`
	Detail   string `json:"detail"`
}

func statusJSON(configPath string, sections []statusSection, ready bool) statusView {
	view := statusView{Config: configPath, Ready: ready, Checks: []checkView{}}
	for _, s := range sections {
		for _, r := range s.results {
			view.Checks = append(view.Checks, checkView{
				Section:  s.title,
				Name:     r.Name,
				Passed:   r.Passed,
				Optional: r.Optional,
				Detail:   r.Detail,
			})
		}
	}
	return view
}

type recordingView struct {
	ID            int64      `json:"id"`
	AttemptID     string     `json:"attempt_id,omitempty"`
	Category      string     `json:"category"`
	Source        string     `json:"source,omitempty"`
	FileName      string     `json:"file_name"`
	RemoteAddress string     `json:"url,omitempty"`
	LocalRef      string     `json:"local_ref"`
	LocalPath     string     `json:"local_path,omitempty"`
	ContentType   string     `json:"content_type,omitempty"`
	SizeBytes     int64      `json:"size"`
	Origin        string     `json:"origin,omitempty"`
	ForMobile     bool       `json:"for_mobile"`
	LocalOnly     bool       `json:"local_only"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UploadedAt    *time.Time `json:"uploaded_at,omitempty"`
}

func recordingJSON(rec *recordings.Recording) recordingView {
	return recordingView{
		ID:            rec.ID,
		AttemptID:     rec.AttemptID,
		Category:      rec.Category,
		Source:        rec.Source,
		FileName:      rec.FileName,
		RemoteAddress: rec.RemoteAddress,
		LocalRef:      rec.LocalRef,
		LocalPath:     rec.LocalPath,
		ContentType:   rec.ContentType,
		SizeBytes:     rec.SizeBytes,
		Origin:        rec.Origin,
		ForMobile:     rec.ForMobile,
		LocalOnly:     rec.LocalOnly,
		Error:         rec.ErrorMessage,
		CreatedAt:     rec.CreatedAt,
		UploadedAt:    rec.UploadedAt,
	}
}

func recordingsJSON(items []*recordings.Recording) []recordingView {
	out := make([]recordingView, 0, len(items))
	for _, rec := range items {
		out = append(out, recordingJSON(rec))
	}
	return out
}
