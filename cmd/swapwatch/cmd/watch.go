package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"skillswap-backend/internal/client"
	"skillswap-backend/internal/notify"
	"skillswap-backend/internal/service"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Print incoming swap requests until interrupted",
		RunE:  runWatch,
	}

	inboxCmd = &cobra.Command{
		Use:   "inbox",
		Short: "Print the pending requests and matches once",
		RunE:  runInbox,
	}
)

func runWatch(cmd *cobra.Command, _ []string) error {
	c, userID, err := newClient()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	inbox := client.NewInbox()

	// report what is already pending before listening
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := refresh(ctx, c, userID, inbox, out); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "initial fetch failed: %v\n", err)
	}

	session, err := notify.Open(notify.SessionConfig{
		URL:            c.EventURL(userID),
		Header:         c.AuthHeader(),
		ReconnectDelay: viper.GetDuration("reconnect-delay"),
		PollInterval:   viper.GetDuration("poll-interval"),
		InitMessage:    "swapwatch " + userID,
		OnEvent: func(ev notify.Event) {
			printEvent(out, inbox, ev)
		},
		Poll: func(ctx context.Context) error {
			return refresh(ctx, c, userID, inbox, out)
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Fprintf(out, "watching swap requests for %s (Ctrl+C to stop)\n", userID)
	<-ctx.Done()
	return nil
}

func runInbox(cmd *cobra.Command, _ []string) error {
	c, userID, err := newClient()
	if err != nil {
		return err
	}

	dashboard, err := c.Dashboard(cmd.Context(), userID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "incoming (%d)\n", len(dashboard.Incoming))
	for _, r := range dashboard.Incoming {
		printRequest(out, r)
	}
	fmt.Fprintf(out, "outgoing (%d)\n", len(dashboard.Outgoing))
	for _, r := range dashboard.Outgoing {
		fmt.Fprintf(out, "  %s  to %s: %s for %s\n", r.RequestID, r.PartnerName, r.SenderSkill, r.RequestedSkill)
	}
	fmt.Fprintf(out, "matches (%d)\n", len(dashboard.Matches))
	for _, m := range dashboard.Matches {
		fmt.Fprintf(out, "  %s  %s <%s>: %s for %s, %d sessions, %s\n",
			m.MatchID, m.PartnerName, m.PartnerEmail, m.YourSkill, m.PartnerSkill, m.SessionsCompleted, m.Status)
	}
	return nil
}

func refresh(ctx context.Context, c *client.Client, userID string, inbox *client.Inbox, out io.Writer) error {
	dashboard, err := c.Dashboard(ctx, userID)
	if err != nil {
		return err
	}
	for _, r := range inbox.Unseen(dashboard.Incoming) {
		printRequest(out, r)
	}
	return nil
}

func printEvent(out io.Writer, inbox *client.Inbox, ev notify.Event) {
	switch ev.Type {
	case notify.EventNewRequest:
		var p notify.NewRequestPayload
		if err := ev.DecodePayload(&p); err != nil {
			fmt.Fprintf(out, "bad new_request event: %v\n", err)
			return
		}
		if inbox.MarkSeen(p.RequestID) {
			fmt.Fprintf(out, "* %s  from %s: offers %s for %s\n", p.RequestID, p.SenderName, p.SenderSkill, p.RequestedSkill)
		}
	case notify.EventConnection:
		fmt.Fprintln(out, "live channel connected")
	}
}

func printRequest(out io.Writer, r service.RequestView) {
	fmt.Fprintf(out, "* %s  from %s: offers %s for %s (%s)\n",
		r.RequestID, r.PartnerName, r.SenderSkill, r.RequestedSkill, r.TimeAvailability)
}
