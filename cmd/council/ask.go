package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-council/infrastructure/attachments"
	"github.com/ahrav/go-council/internal/application"
	"github.com/ahrav/go-council/internal/domain"
)

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringP("mode", "m", "", "execution mode: chat_only, chat_ranking or full (default from settings)")
	askCmd.Flags().StringSliceP("attach", "a", nil, "attach a .txt, .md or .html file (repeatable)")
	askCmd.Flags().String("tool-context", "", "extra context appended to the Stage 1 prompt")
	askCmd.Flags().Bool("stream", false, "print Stage 1 text as it arrives")
	askCmd.Flags().Bool("json", false, "print the full deliberation result as JSON")
	askCmd.Flags().Bool("title", false, "also generate a short conversation title")
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Run one deliberation turn and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	settings, err := rt.settings()
	if err != nil {
		return err
	}
	if err := rt.ensureGateway(settings); err != nil {
		return err
	}

	flags := cmd.Flags()
	mode, _ := flags.GetString("mode")
	paths, _ := flags.GetStringSlice("attach")
	toolContext, _ := flags.GetString("tool-context")
	stream, _ := flags.GetBool("stream")
	asJSON, _ := flags.GetBool("json")
	withTitle, _ := flags.GetBool("title")

	atts, err := readAttachments(paths, settings.MaxAttachmentChars)
	if err != nil {
		return err
	}
	q, err := domain.NewCouncilQuery(strings.Join(args, " "), atts, toolContext)
	if err != nil {
		return err
	}

	opts := rt.councilOptions()
	if stream {
		opts = append(opts, application.WithStreaming(true))
	}
	council, err := application.NewCouncil(rt.gateway, settings, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	turn := application.Turn{
		ID:    uuid.NewString(),
		Query: q,
		Mode:  domain.ExecutionMode(mode),
	}
	if stream {
		turn.Sink = progressPrinter(cmd.ErrOrStderr())
	}

	var title string
	if withTitle {
		title, err = application.GenerateTitle(ctx, rt.gateway, settings.Title(), q.ShortQuery())
		if err != nil {
			rt.logger.Warn("title generation failed", "err", err)
		}
	}

	result, err := council.Run(ctx, turn)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*domain.DeliberationResult
			Title string `json:"title,omitempty"`
		}{result, title})
	}
	printResult(out, result, title)
	return nil
}

func readAttachments(paths []string, maxChars int) ([]domain.Attachment, error) {
	atts := make([]domain.Attachment, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		att, err := attachments.Excerpt(p, content, maxChars)
		if err != nil {
			return nil, err
		}
		atts = append(atts, att)
	}
	return atts, nil
}

// progressPrinter writes stage progress and streamed Stage 1 text to w.
func progressPrinter(w io.Writer) application.EventSink {
	return func(e application.Event) {
		switch e.Type {
		case application.EventStage1Start:
			fmt.Fprintln(w, "== Stage 1: collecting responses")
		case application.EventStage1Chunk:
			fmt.Fprint(w, e.Chunk)
		case application.EventStage1Response:
			fmt.Fprintf(w, "\n-- %s done\n", e.Model)
		case application.EventStage2Start:
			fmt.Fprintln(w, "== Stage 2: peer ranking")
		case application.EventStage3Start:
			fmt.Fprintln(w, "== Stage 3: chairman synthesis")
		case application.EventError:
			fmt.Fprintf(w, "!! %s\n", e.Message)
		}
	}
}

func printResult(w io.Writer, r *domain.DeliberationResult, title string) {
	if title != "" {
		fmt.Fprintf(w, "# %s\n\n", title)
	}

	fmt.Fprintln(w, "## Stage 1")
	for _, resp := range r.Stage1 {
		if !resp.OK() {
			fmt.Fprintf(w, "\n### %s (failed: %s)\n", resp.Model, *resp.Error)
			continue
		}
		fmt.Fprintf(w, "\n### %s (%d ms)\n%s\n", resp.Model, resp.ElapsedMS, resp.Text())
	}

	if len(r.Aggregate) > 0 {
		fmt.Fprintln(w, "\n## Stage 2: aggregate ranking")
		for i, e := range r.Aggregate {
			fmt.Fprintf(w, "%d. %s (average rank %.2f over %d votes)\n", i+1, e.Model, e.AverageRank, e.RankingsCount)
		}
	}

	if r.Stage3 != nil {
		fmt.Fprintf(w, "\n## Stage 3: %s\n%s\n", r.Stage3.Model, r.Stage3.Response)
	}
}
