package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/id/uuid"
	"github.com/JakeFAU/frontier-crawler/internal/session"
)

type crawlOptions struct {
	sessionID string
	previous  string
}

// newCrawlCmd runs one session in the foreground. Interrupting it cancels the
// session; running it again with --session picks up where it stopped.
func newCrawlCmd() *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "crawl [seed-url...]",
		Short: "Crawls from the given seeds until the frontier is exhausted",
		Long: `Crawls one session in the foreground and prints the final session
record as JSON. Pass --session to resume a persisted session; seeds are then
optional. Pass --previous to skip resources unchanged since an earlier session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session ID to create or resume")
	cmd.Flags().StringVar(&opts.previous, "previous", "", "earlier session whose ledger drives incremental revisits")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts crawlOptions, seeds []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	req := session.Request{Seeds: seeds}
	if opts.sessionID != "" {
		if req.SessionID, err = uuid.Normalize(opts.sessionID); err != nil {
			return fmt.Errorf("--session: %w", err)
		}
	}
	if opts.previous != "" {
		if req.PreviousSessionID, err = uuid.Normalize(opts.previous); err != nil {
			return fmt.Errorf("--previous: %w", err)
		}
	}

	sess, err := appInstance.Crawl(cmd.Context(), req)
	if err != nil {
		return err
	}
	if sess.Status == crawler.SessionCanceled {
		appInstance.Logger().Info("Crawl interrupted; resume with --session", zap.String("session_id", sess.ID))
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(sess); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if sess.Status == crawler.SessionFailed {
		return fmt.Errorf("session %s failed: %s", sess.ID, sess.ErrorText)
	}
	return nil
}
