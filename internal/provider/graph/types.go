// Package graph implements a Transport that sends email via the Microsoft Graph API.
package graph

import (
	"encoding/base64"

	"github.com/shineum/alertmail-lite/internal/email"
)

// sendMailRequest is the top-level request body for the sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject      string            `json:"subject"`
	Importance   string            `json:"importance"`
	Body         messageBody       `json:"body"`
	ToRecipients []recipient       `json:"toRecipients"`
	Attachments  []graphAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// graphErrorResponse is the error envelope returned by Graph.
type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildSendMailRequest converts msg into a sendMail request body.
func buildSendMailRequest(msg *email.Message, atts []email.Attachment) *sendMailRequest {
	body := messageBody{ContentType: "text", Content: msg.TextBody}
	if msg.HTMLBody != "" {
		body = messageBody{ContentType: "html", Content: msg.HTMLBody}
	}

	attachments := make([]graphAttachment, 0, len(atts))
	for _, att := range atts {
		attachments = append(attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	importance := string(msg.Priority)
	if importance == "" {
		importance = string(email.PriorityNormal)
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:    msg.Subject,
			Importance: importance,
			Body:       body,
			ToRecipients: []recipient{
				{EmailAddress: emailAddress{Address: msg.Recipient}},
			},
			Attachments: attachments,
		},
	}
}
