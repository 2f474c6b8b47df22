// Package transcript downloads platform transcripts and attaches speaker names.
package transcript

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/meetai/meeting-server-go/internal/model"
)

const (
	fetchTimeout = 30 * time.Second
	// maxLineSize bounds a single JSONL record.
	maxLineSize = 1 << 20
)

type Fetcher struct {
	http *resty.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{http: resty.New().SetTimeout(fetchTimeout)}
}

// Fetch downloads the raw transcript body at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch transcript: status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

// Parse decodes line-delimited JSON records. Blank lines are skipped; a
// malformed line fails the whole parse.
func Parse(data []byte) ([]model.TranscriptItem, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var items []model.TranscriptItem
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var item model.TranscriptItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("parse transcript line %d: %w", line, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return items, nil
}

// SpeakerIDs returns the distinct speaker ids in first-seen order.
func SpeakerIDs(items []model.TranscriptItem) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, item := range items {
		if item.SpeakerID == "" {
			continue
		}
		if _, ok := seen[item.SpeakerID]; ok {
			continue
		}
		seen[item.SpeakerID] = struct{}{}
		ids = append(ids, item.SpeakerID)
	}
	return ids
}

// Annotate attaches a display name to each item. Users win over agents on
// an id collision; unresolved ids become "Unknown".
func Annotate(items []model.TranscriptItem, users []model.User, agents []model.Agent) []model.AnnotatedTranscriptItem {
	speakers := make(map[string]model.TranscriptSpeaker, len(users)+len(agents))
	for _, a := range agents {
		speakers[a.ID] = model.TranscriptSpeaker{Name: a.Name, Kind: model.SpeakerKindAgent}
	}
	for _, u := range users {
		speakers[u.ID] = model.TranscriptSpeaker{Name: u.Name, Kind: model.SpeakerKindUser}
	}

	out := make([]model.AnnotatedTranscriptItem, len(items))
	for i, item := range items {
		speaker, ok := speakers[item.SpeakerID]
		if !ok {
			speaker = model.TranscriptSpeaker{Name: model.UnknownSpeakerName, Kind: model.SpeakerKindUnknown}
		}
		out[i] = model.AnnotatedTranscriptItem{TranscriptItem: item, User: speaker}
	}
	return out
}
