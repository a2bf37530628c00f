// Command mailprobe checks the notification pipeline end to end without
// going through the HTTP surface: it verifies the SMTP connection and
// sends the admin message for the most recent ledger record to the
// admin mailbox, marked as a probe.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/expoarte/registrar/internal/config"
	"github.com/expoarte/registrar/internal/dispatcher"
	"github.com/expoarte/registrar/internal/ledger/document"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	if cfg.LedgerBackend != config.BackendDocument {
		fmt.Fprintln(os.Stderr, "mailprobe only supports the document backend")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SMTPTimeout)
	defer cancel()

	mailer, err := dispatcher.NewSMTPMailer(dispatcher.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.MailFrom,
		Timeout:  cfg.SMTPTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build smtp mailer: %v\n", err)
		os.Exit(1)
	}

	log.Printf("mailprobe: verifying connection to %s:%d", cfg.SMTPHost, cfg.SMTPPort)
	if err := mailer.Verify(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "smtp verify failed: %v\n", err)
		os.Exit(1)
	}
	log.Println("mailprobe: smtp connection verified")

	// Reads on the document ledger do not need the write worker.
	store := document.New(cfg.LedgerPath, cfg.LedgerQueueSize)
	records, err := store.LoadAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read ledger: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "ledger is empty; submit a registration first")
		os.Exit(1)
	}

	record := records[len(records)-1]
	contact, err := dispatcher.ExtractContact(record)
	if err != nil {
		fmt.Fprintf(os.Stderr, "latest record %s has no contact: %v\n", record.Identity, err)
		os.Exit(1)
	}

	msg, err := dispatcher.BuildAdminMessage(cfg.AdminEmail, record, contact)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build message: %v\n", err)
		os.Exit(1)
	}
	msg.Subject = "[probe] " + msg.Subject

	log.Printf("mailprobe: sending probe for registration %s to %s", record.Identity, cfg.AdminEmail)
	if err := mailer.Send(ctx, msg); err != nil {
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		os.Exit(1)
	}

	log.Println("mailprobe: probe sent")
}
