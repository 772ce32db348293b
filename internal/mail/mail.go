package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
	"strings"

	"roomchat/internal/config"
	"roomchat/internal/models"
)

// Notifier tells users about changes to their rooms.
type Notifier interface {
	ParticipantAdded(to *models.User, room *models.Room, addedBy *models.User) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Sender delivers notifications over SMTP. With no host configured it only
// logs the rendered mail.
type Sender struct {
	cfg  config.SMTPConfig
	send sendFunc
}

func NewSender(cfg config.SMTPConfig) *Sender {
	return &Sender{
		cfg:  cfg,
		send: smtp.SendMail,
	}
}

var participantAddedTemplate = template.Must(template.New("participant_added").Parse(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <p>Hi {{.Recipient}},</p>
    <p>{{.AddedBy}} added you to <strong>{{.Room}}</strong>.</p>
    <p>Open the app to join the conversation.</p>
</body>
</html>
`))

func roomLabel(room *models.Room) string {
	if room.Name != nil && strings.TrimSpace(*room.Name) != "" {
		return *room.Name
	}
	return fmt.Sprintf("room #%d", room.ID)
}

func (s *Sender) ParticipantAdded(to *models.User, room *models.Room, addedBy *models.User) error {
	var body bytes.Buffer
	err := participantAddedTemplate.Execute(&body, map[string]string{
		"Recipient": to.DisplayName(),
		"AddedBy":   addedBy.DisplayName(),
		"Room":      roomLabel(room),
	})
	if err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	subject := fmt.Sprintf("You were added to %s", roomLabel(room))
	return s.deliver(to.Email, subject, body.String())
}

func (s *Sender) deliver(to, subject, body string) error {
	if s.cfg.Host == "" {
		log.Printf("[MAIL] MOCK EMAIL TO: %s | SUBJECT: %s", to, subject)
		return nil
	}

	headers := [][2]string{
		{"From", s.cfg.From},
		{"To", to},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/html; charset="UTF-8"`},
	}

	var message strings.Builder
	for _, h := range headers {
		fmt.Fprintf(&message, "%s: %s\r\n", h[0], h[1])
	}
	message.WriteString("\r\n")
	message.WriteString(body)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)

	if err := s.send(addr, auth, s.cfg.From, []string{to}, []byte(message.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	log.Printf("[MAIL] Sent %q to %s", subject, to)
	return nil
}
