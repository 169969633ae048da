package messages

import "strings"

// NotificationJob is one outbound message for one recipient.
type NotificationJob struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	ImagePath string `json:"image_path,omitempty"`
}

// Line renders the job in the slot format "recipient|message[|image_path]".
// Separators inside the message are replaced so the poller can split reliably.
func (j NotificationJob) Line() string {
	msg := strings.ReplaceAll(j.Message, "|", "/")
	if j.ImagePath == "" {
		return j.Recipient + "|" + msg
	}
	return j.Recipient + "|" + msg + "|" + j.ImagePath
}
