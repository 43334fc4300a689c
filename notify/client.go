package notify

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/lingora/booking/rest"
)

const defaultHTTPTimeout = 6500 * time.Millisecond

var Logger *log.Logger

func init() {
	// setup the logger
	Logger = log.New(os.Stderr, "", log.LstdFlags)
}

var httpClient = &http.Client{Timeout: defaultHTTPTimeout}

// Client is an API client for the notification gateway, the service that owns
// push, SMS and email transport. The gateway accepts a POST per channel and
// returns a 2xx once the message is handed to the provider.
type Client struct {
	*rest.Client

	Push  *PushService
	SMS   *SMSService
	Email *EmailService
}

// NewClient creates a new Client.
func NewClient(id, token, base string) *Client {
	c := &Client{Client: &rest.Client{
		Id:     id,
		Token:  token,
		Client: httpClient,
		Base:   base,
	}}
	c.Push = &PushService{Client: c}
	c.SMS = &SMSService{Client: c}
	c.Email = &EmailService{Client: c}
	return c
}
