package notify

import (
	"fmt"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/lingora/booking/models"
	"github.com/lingora/booking/models/translators"
	"golang.org/x/sync/errgroup"
)

// defaultFanout bounds how many gateway requests a wildcard dispatch runs at
// once.
const defaultFanout = 8

// Config carries everything the dispatcher needs. It is passed in at
// construction; the dispatcher never reads ambient globals.
type Config struct {
	// GatewayURL is the scheme+host of the notification gateway.
	GatewayURL string
	// GatewayUser and GatewayToken are the basic auth credentials for the
	// gateway.
	GatewayUser  string
	GatewayToken string
	// AdminEmail receives the new-booking notification for the immediate
	// booking flow.
	AdminEmail string
	// Fanout bounds concurrent deliveries during a wildcard dispatch. Zero
	// means the default.
	Fanout int
}

// A Recipient selects who a notification goes to: one translator, one
// customer, or every translator eligible for the booking.
type Recipient struct {
	TranslatorID string
	CustomerID   string
	All          bool
}

// AllEligible is the wildcard recipient: every translator whose profile
// matches the booking's language pair and town.
var AllEligible = Recipient{All: true}

// Translator selects a single translator by user id.
func Translator(userID string) Recipient {
	return Recipient{TranslatorID: userID}
}

// Customer selects the booking's owner; the gateway resolves their address.
func Customer(userID string) Recipient {
	return Recipient{CustomerID: userID}
}

// Dispatcher builds notification payloads from booking snapshots and hands
// them to the gateway. Delivery failures are reported to the caller; the
// caller decides whether they are fatal to the surrounding operation.
type Dispatcher struct {
	Client     *Client
	AdminEmail string
	fanout     int
}

// NewDispatcher creates a Dispatcher from the given configuration.
func NewDispatcher(c Config) *Dispatcher {
	fanout := c.Fanout
	if fanout <= 0 {
		fanout = defaultFanout
	}
	return &Dispatcher{
		Client:     NewClient(c.GatewayUser, c.GatewayToken, c.GatewayURL),
		AdminEmail: c.AdminEmail,
		fanout:     fanout,
	}
}

// Notify sends a notification about the booking to the selected recipient
// over the given channel. The payload is built from the booking snapshot at
// call time. For the wildcard recipient, the eligible pool is resolved from
// the store and deliveries fan out concurrently; the first failure is
// returned after all sends finish.
func (d *Dispatcher) Notify(b *models.Booking, r Recipient, ch Channel, event string) error {
	msg := NewMessage(b, event)
	if r.All {
		pool, err := translators.GetEligible(b.LanguageTo, b.Town)
		if err != nil {
			return err
		}
		return d.fanoutSend(pool, msg, ch)
	}
	if r.CustomerID != "" {
		err := d.Client.Email.SendToUser(r.CustomerID, subject(event), msg)
		d.count(ch, err)
		return err
	}
	t, err := translators.Get(r.TranslatorID)
	if err != nil {
		return err
	}
	err = d.send(t, msg, ch)
	d.count(ch, err)
	return err
}

// NotifyAdmin emails the configured administrative address about a booking
// event. Used by the immediate booking flow, distinct from offer dispatch.
func (d *Dispatcher) NotifyAdmin(b *models.Booking, event string) error {
	if d.AdminEmail == "" {
		Logger.Printf("no admin email configured, skipping %s notification for %s", event, b.ID.String())
		return nil
	}
	err := d.Client.Email.Send(d.AdminEmail, subject(event), NewMessage(b, event))
	d.count(ChannelEmail, err)
	return err
}

func (d *Dispatcher) fanoutSend(pool []*models.Translator, msg *Message, ch Channel) error {
	var g errgroup.Group
	g.SetLimit(d.fanout)
	for _, t := range pool {
		t := t
		g.Go(func() error {
			err := d.send(t, msg, ch)
			d.count(ch, err)
			if err != nil {
				Logger.Printf("could not notify translator %s about %s: %s", t.UserID, msg.BookingID.String(), err)
			}
			return err
		})
	}
	return g.Wait()
}

func (d *Dispatcher) send(t *models.Translator, msg *Message, ch Channel) error {
	switch ch {
	case ChannelPush:
		if !t.PushToken.Valid {
			// No registered device; skipping is not a delivery failure.
			return nil
		}
		return d.Client.Push.Send(t.PushToken.String, msg)
	case ChannelSMS:
		return d.Client.SMS.Send(t.Phone, msg)
	case ChannelEmail:
		return d.Client.Email.Send(t.Email, subject(msg.Event), msg)
	}
	return fmt.Errorf("unknown notification channel %q", ch)
}

func (d *Dispatcher) count(ch Channel, err error) {
	if err == nil {
		go metrics.Increment(fmt.Sprintf("notify.%s.sent", ch))
	} else {
		go metrics.Increment(fmt.Sprintf("notify.%s.error", ch))
	}
}

func subject(event string) string {
	return "Booking " + event
}
