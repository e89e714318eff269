package services

import "qooqz/internal/utils"

// Delivery pushes a text message to the subject's phone. Delivery is
// always fire-and-forget: persistence of the token must already have
// succeeded, and a delivery failure never invalidates it.
type Delivery interface {
	SendText(phone, text string) error
}

// CodeHasher — one-way adaptive hash over the numeric code.
type CodeHasher interface {
	Hash(code string) (string, error)
	Compare(code, digest string) bool
}

type whatsappDelivery struct {
	client *utils.WhatsAppClient
}

func NewWhatsAppDelivery(client *utils.WhatsAppClient) Delivery {
	return &whatsappDelivery{client: client}
}

func (d *whatsappDelivery) SendText(phone, text string) error {
	_, err := d.client.SendText(phone, text)
	return err
}
