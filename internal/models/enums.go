package models

import (
	"fmt"
	"strings"
)

// Source tags the origin an event was ingested from.
type Source string

const (
	SourceEventbrite Source = "eventbrite"
	SourceMeetup     Source = "meetup"
	SourceFacebook   Source = "facebook"
	SourceBlog       Source = "blog"
	SourceForum      Source = "forum"
)

// Sources lists every origin in registration order.
func Sources() []Source {
	return []Source{SourceEventbrite, SourceMeetup, SourceFacebook, SourceBlog, SourceForum}
}

func (s Source) Valid() bool {
	switch s {
	case SourceEventbrite, SourceMeetup, SourceFacebook, SourceBlog, SourceForum:
		return true
	}
	return false
}

func ParseSource(raw string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown source %q", raw)
	}
	return s, nil
}

// Status is the moderation lifecycle tag. The pipeline only ever writes DRAFT.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusFlagged   Status = "FLAGGED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusFlagged:
		return true
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}
