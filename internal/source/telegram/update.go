// Package telegram decodes Bot API webhook updates into candidates and resolves file ids.
package telegram

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

// Update is one Bot API update.
type Update struct {
	UpdateID          int64    `json:"update_id" validate:"required"`
	Message           *Message `json:"message,omitempty"`
	EditedMessage     *Message `json:"edited_message,omitempty"`
	ChannelPost       *Message `json:"channel_post,omitempty"`
	EditedChannelPost *Message `json:"edited_channel_post,omitempty"`
}

// Msg returns whichever message variant the update carries.
func (u Update) Msg() *Message {
	switch {
	case u.Message != nil:
		return u.Message
	case u.EditedMessage != nil:
		return u.EditedMessage
	case u.ChannelPost != nil:
		return u.ChannelPost
	default:
		return u.EditedChannelPost
	}
}

// Message is the subset of a Bot API message the archive reads.
type Message struct {
	MessageID int64       `json:"message_id" validate:"required"`
	Date      int64       `json:"date" validate:"required"`
	Chat      Chat        `json:"chat" validate:"required"`
	Text      string      `json:"text,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty" validate:"omitempty,dive"`
	Video     *File       `json:"video,omitempty"`
	Animation *File       `json:"animation,omitempty"`
	Document  *File       `json:"document,omitempty"`
}

// Chat identifies where a message was posted.
type Chat struct {
	ID        int64  `json:"id" validate:"required"`
	Type      string `json:"type"`
	Title     string `json:"title,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// DisplayName is the human name of the chat.
func (c Chat) DisplayName() string {
	for _, name := range []string{c.Title, c.Username, c.FirstName} {
		if name != "" {
			return name
		}
	}
	return "Unknown"
}

// PhotoSize is one resolution of a photo.
type PhotoSize struct {
	FileID       string `json:"file_id" validate:"required"`
	FileUniqueID string `json:"file_unique_id"`
	FileSize     int64  `json:"file_size,omitempty"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// File covers video, animation, and document attachments.
type File struct {
	FileID   string `json:"file_id" validate:"required"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Decode accepts a single update or an array of updates and validates each one.
func Decode(raw []byte) ([]Update, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty body", ingest.ErrMalformedPayload)
	}
	var updates []Update
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &updates); err != nil {
			return nil, fmt.Errorf("%w: %w", ingest.ErrMalformedPayload, err)
		}
	} else {
		var single Update
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("%w: %w", ingest.ErrMalformedPayload, err)
		}
		updates = []Update{single}
	}
	for i := range updates {
		if err := validate.Struct(updates[i]); err != nil {
			return nil, fmt.Errorf("%w: update %d: %s", ingest.ErrMalformedPayload, i, describeValidation(err))
		}
	}
	return updates, nil
}

func describeValidation(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	fields := make([]string, 0, len(errs))
	for _, fe := range errs {
		fields = append(fields, fmt.Sprintf("%s %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(fields, ", ")
}

// Parse decodes raw and returns candidates for every update carrying media.
func Parse(raw []byte) ([]ingest.Candidate, error) {
	updates, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	out := make([]ingest.Candidate, 0, len(updates))
	for _, u := range updates {
		if c, ok := ToCandidate(u); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// ToCandidate maps an update onto a candidate. ok is false when there is no message or no media.
func ToCandidate(u Update) (ingest.Candidate, bool) {
	msg := u.Msg()
	if msg == nil {
		return ingest.Candidate{}, false
	}
	fileID := mediaFileID(msg)
	if fileID == "" {
		return ingest.Candidate{}, false
	}

	posted := time.Unix(msg.Date, 0).UTC()
	caption := strings.TrimSpace(msg.Caption)
	if caption == "" {
		caption = strings.TrimSpace(msg.Text)
	}
	if caption == "" {
		caption = fmt.Sprintf("Photo from %s - %s", msg.Chat.DisplayName(), posted.Format("2006-01-02"))
	}

	chatType := msg.Chat.Type
	if chatType == "channel" {
		chatType = "Channel"
	}
	tags := []string{"Telegram"}
	for _, tag := range []string{chatType, msg.Chat.DisplayName()} {
		if tag != "" {
			tags = append(tags, tag)
		}
	}

	return ingest.Candidate{
		SourceURL:    SourceURL(msg.Chat, msg.MessageID),
		Platform:     ingest.PlatformTelegram,
		SourcePostID: strconv.FormatInt(msg.MessageID, 10),
		MediaRef:     fileID,
		RawCaption:   caption,
		RawEventDate: posted.Format(time.RFC3339),
		Tags:         tags,
		SourceName:   msg.Chat.DisplayName(),
	}, true
}

// SourceURL builds the public t.me link for a message.
func SourceURL(chat Chat, messageID int64) string {
	if chat.Username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", chat.Username, messageID)
	}
	id := strconv.FormatInt(chat.ID, 10)
	id = strings.TrimPrefix(id, "-100")
	id = strings.TrimPrefix(id, "-")
	return fmt.Sprintf("https://t.me/c/%s/%d", id, messageID)
}

// mediaFileID prefers the largest photo, then video, animation, and image/video documents.
func mediaFileID(msg *Message) string {
	if n := len(msg.Photo); n > 0 {
		return msg.Photo[n-1].FileID
	}
	if msg.Video != nil {
		return msg.Video.FileID
	}
	if msg.Animation != nil {
		return msg.Animation.FileID
	}
	if msg.Document != nil {
		mt := strings.ToLower(msg.Document.MimeType)
		if strings.HasPrefix(mt, "image/") || strings.HasPrefix(mt, "video/") {
			return msg.Document.FileID
		}
	}
	return ""
}
