package models

// ChannelMessage is the normalized view of a message read through the bot API.
type ChannelMessage struct {
	ID          string              `json:"id"`
	Content     string              `json:"content"`
	Author      MessageAuthor       `json:"author"`
	Timestamp   string              `json:"timestamp"`
	Embeds      []MessageEmbed      `json:"embeds"`
	Attachments []MessageAttachment `json:"attachments"`
}

type MessageAuthor struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

type MessageEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Fields      []MessageEmbedField `json:"fields"`
	Thumbnail   string              `json:"thumbnail,omitempty"`
	Image       string              `json:"image,omitempty"`
}

type MessageEmbedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type MessageAttachment struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// Attachment is a file supplied by the client for relay.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}
