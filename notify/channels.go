package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	types "github.com/Shyp/go-types"
	"github.com/lingora/booking/models"
)

// Channel names a delivery mechanism the gateway supports. Push and SMS are
// independently addressable so a resend on one never re-triggers the other.
type Channel string

const ChannelPush = Channel("push")
const ChannelSMS = Channel("sms")
const ChannelEmail = Channel("email")

// A Message is the payload delivered for a booking event. It is built from
// a booking snapshot at dispatch time and never persisted.
type Message struct {
	BookingID    types.PrefixUUID `json:"booking_id"`
	Event        string           `json:"event"`
	LanguageFrom string           `json:"language_from"`
	LanguageTo   string           `json:"language_to"`
	Town         string           `json:"town"`
	Due          types.NullTime   `json:"due"`
}

// NewMessage builds the payload for a booking event from the booking's
// current state.
func NewMessage(b *models.Booking, event string) *Message {
	return &Message{
		BookingID:    b.ID,
		Event:        event,
		LanguageFrom: b.LanguageFrom,
		LanguageTo:   b.LanguageTo,
		Town:         b.Town,
		Due:          b.Due,
	}
}

// A DeliveryError is returned when the gateway could not deliver a message.
// The message text comes from the gateway's response.
type DeliveryError struct {
	Channel Channel
	Message string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("Could not deliver %s notification: %s", e.Channel, e.Message)
}

type PushService struct {
	Client *Client
}

type pushParams struct {
	Token   string   `json:"token"`
	Message *Message `json:"message"`
}

// Send delivers msg as a push notification to the device with the given
// token. The gateway is expected to respond with a 2xx; any other response
// becomes a *DeliveryError.
func (s *PushService) Send(token string, msg *Message) error {
	if msg == nil {
		return errors.New("no message to send")
	}
	return s.Client.post("/v1/push", ChannelPush, &pushParams{Token: token, Message: msg})
}

type SMSService struct {
	Client *Client
}

type smsParams struct {
	Phone   string   `json:"phone"`
	Message *Message `json:"message"`
}

// Send delivers msg as an SMS to the given phone number.
func (s *SMSService) Send(phone string, msg *Message) error {
	if msg == nil {
		return errors.New("no message to send")
	}
	return s.Client.post("/v1/sms", ChannelSMS, &smsParams{Phone: phone, Message: msg})
}

type EmailService struct {
	Client *Client
}

type emailParams struct {
	// Exactly one of Address and UserID is set; the gateway resolves a user
	// id to their address.
	Address string   `json:"address,omitempty"`
	UserID  string   `json:"user_id,omitempty"`
	Subject string   `json:"subject"`
	Message *Message `json:"message"`
}

// Send delivers msg by email to an explicit address.
func (s *EmailService) Send(address, subject string, msg *Message) error {
	if msg == nil {
		return errors.New("no message to send")
	}
	return s.Client.post("/v1/email", ChannelEmail, &emailParams{Address: address, Subject: subject, Message: msg})
}

// SendToUser delivers msg by email to a user the gateway knows how to reach.
func (s *EmailService) SendToUser(userID, subject string, msg *Message) error {
	if msg == nil {
		return errors.New("no message to send")
	}
	return s.Client.post("/v1/email", ChannelEmail, &emailParams{UserID: userID, Subject: subject, Message: msg})
}

func (c *Client) post(path string, ch Channel, params interface{}) error {
	b := new(bytes.Buffer)
	if err := json.NewEncoder(b).Encode(params); err != nil {
		return err
	}
	req, err := c.NewRequest("POST", path, b)
	if err != nil {
		return err
	}
	var d struct{}
	if err := c.Do(req, &d); err != nil {
		return &DeliveryError{Channel: ch, Message: err.Error()}
	}
	return nil
}
