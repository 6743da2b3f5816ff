// Package notify delivers short operational messages to a chat channel.
package notify

import "context"

// Attachment is a rich block accompanying a chat message.
type Attachment struct {
	Text       string   `json:"text"`
	Title      string   `json:"title,omitempty"`
	TitleLink  string   `json:"title_link,omitempty"`
	Color      string   `json:"color,omitempty"`
	MarkdownIn []string `json:"mrkdwn_in,omitempty"`
}

// Notifier sends a message to a recipient channel or user.
type Notifier interface {
	Send(ctx context.Context, recipient, text string, attachments []Attachment) error
}

// AttachmentBuilder assembles an Attachment with markdown enabled in the
// text body.
type AttachmentBuilder struct {
	attachment Attachment
}

// NewAttachment starts a builder with the given body text.
func NewAttachment(text string) *AttachmentBuilder {
	return &AttachmentBuilder{
		attachment: Attachment{
			Text:       text,
			MarkdownIn: []string{"text"},
		},
	}
}

func (b *AttachmentBuilder) Title(title string) *AttachmentBuilder {
	b.attachment.Title = title
	return b
}

func (b *AttachmentBuilder) TitleLink(link string) *AttachmentBuilder {
	b.attachment.TitleLink = link
	return b
}

func (b *AttachmentBuilder) Color(color string) *AttachmentBuilder {
	b.attachment.Color = color
	return b
}

func (b *AttachmentBuilder) Build() Attachment {
	return b.attachment
}
