// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package alert is the Alert collaborator: SMTP delivery is out of scope
// for this spec (it's an external collaborator named by contract only),
// so this package is deliberately thin — a Sender interface the Decision
// API calls as a fire-and-forget background task, plus one concrete SMTP
// implementation for when a deployment actually wires a mail server in.
package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"text/template"
	"time"
)

// Alert is one notification the Decision Engine flagged via send_alert.
type Alert struct {
	TenantID    string
	ServiceName string
	Endpoint    string
	Reason      string
	ErrorRate   float64
	TriggeredAt time.Time
}

// Sender delivers an Alert. Implementations must not block the caller
// for longer than a single SMTP round trip; the Decision API schedules
// Send as a background task and never awaits it.
type Sender interface {
	Send(ctx context.Context, to string, a Alert) error
}

// SMTPSender sends alerts over plain SMTP with STARTTLS, grounded on
// the original's send_mail: authenticate, compose a single HTML part,
// send, quit.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// New builds an SMTPSender from explicit connection settings.
func New(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{host: host, port: port, username: username, password: password, from: from}
}

var bodyTemplate = template.Must(template.New("alert").Parse(
	`<html><body>
<h2>Traffic control alert</h2>
<p><b>Tenant:</b> {{.TenantID}}<br>
<b>Service:</b> {{.ServiceName}}<br>
<b>Endpoint:</b> {{.Endpoint}}<br>
<b>Reason:</b> {{.Reason}}<br>
<b>Error rate:</b> {{printf "%.2f" .ErrorRate}}<br>
<b>Triggered at:</b> {{.TriggeredAt}}</p>
</body></html>`))

// Send composes and delivers one alert email. A nil error means the SMTP
// server accepted the message; it does not guarantee delivery.
func (s *SMTPSender) Send(ctx context.Context, to string, a Alert) error {
	var body bytes.Buffer
	if err := bodyTemplate.Execute(&body, a); err != nil {
		return fmt.Errorf("alert: render body: %w", err)
	}

	subject := fmt.Sprintf("[trafficctl] %s%s: %s", a.ServiceName, a.Endpoint, a.Reason)
	msg := fmt.Appendf(nil, "From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html\r\n\r\n%s",
		s.from, to, subject, body.String())

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	auth := smtp.PlainAuth("", s.username, s.password, s.host)

	if err := smtp.SendMail(addr, auth, s.from, []string{to}, msg); err != nil {
		return fmt.Errorf("alert: send mail: %w", err)
	}
	return nil
}

// NoopSender discards every alert; used when no SMTP server is
// configured (config.Config.AlertEnabled() is false) so callers never
// need to nil-check the Sender they hold.
type NoopSender struct{}

// Send always succeeds and does nothing.
func (NoopSender) Send(ctx context.Context, to string, a Alert) error { return nil }
