// Package cmd defines and implements the CLI commands for the scholarhunt executable.
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/hunter"
	"github.com/scoutlab/scholarhunt/internal/pipeline"
)

// newRunCmd creates and configures the 'run' subcommand. It performs one
// full discovery pass under the coordinator lock and then exits. When
// another run already holds the lock the command aborts instead of
// waiting; cron invocations rely on that.
func newRunCmd() *cobra.Command {
	var (
		user         string
		keywords     string
		recipient    string
		jobID        string
		mode         string
		positionType string
		searchTypes  []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Executes one discovery run",
		Long: `Scans all configured sources once, reconciles the posting history,
and mails the digest. The run is serialized through the shared lock:
if a run is already in progress this command reports it and exits.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			params, err := buildParams(appInstance, user, keywords, recipient, positionType, searchTypes)
			if err != nil {
				return err
			}

			logger := appInstance.Logger()
			logger.Info("starting run",
				zap.String("mode", mode),
				zap.String("user", params.User),
				zap.String("keywords", params.Keywords))

			err = appInstance.Runner().Execute(cmd.Context(), mode, jobID, "", params)
			if errors.Is(err, pipeline.ErrLocked) {
				if info := appInstance.Coordinator().LockInfo(); info != nil {
					return fmt.Errorf("another run is already in progress (started by %s at %s)",
						info.User, info.StartedAtStr)
				}
				return err
			}
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}

			logger.Info("run finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "cli", "who requested the run")
	cmd.Flags().StringVar(&keywords, "keywords", "", "comma separated custom keywords; replaces the default catalog")
	cmd.Flags().StringVar(&recipient, "recipient", "", "digest recipient (defaults to smtp.recipient)")
	cmd.Flags().StringVar(&jobID, "job-id", "", "run under an existing job id instead of acquiring the lock")
	cmd.Flags().StringVar(&mode, "mode", "manual", "run mode recorded in the lock: manual or cron")
	cmd.Flags().StringVar(&positionType, "position-type", "", "phd or postdoc (defaults to run.default_position_type)")
	cmd.Flags().StringSliceVar(&searchTypes, "search-types", nil, "search types: open, inquiry, professors (default open)")

	return cmd
}

func buildParams(appInstance App, user, keywords, recipient, positionType string, searchTypes []string) (hunter.RunParams, error) {
	cfg := appInstance.Config()

	params := hunter.RunParams{
		User:      user,
		Keywords:  keywords,
		Recipient: recipient,
	}
	if params.Recipient == "" {
		params.Recipient = cfg.SMTP.Recipient
	}

	if positionType == "" {
		positionType = cfg.Run.DefaultPositionType
	}
	switch hunter.PositionType(positionType) {
	case hunter.PositionPhD, hunter.PositionPostDoc:
		params.PositionType = hunter.PositionType(positionType)
	default:
		return hunter.RunParams{}, fmt.Errorf("invalid position type %q", positionType)
	}

	for _, st := range searchTypes {
		switch hunter.SearchType(st) {
		case hunter.SearchOpen, hunter.SearchInquiry, hunter.SearchProfessors:
			params.SearchTypes = append(params.SearchTypes, hunter.SearchType(st))
		default:
			return hunter.RunParams{}, fmt.Errorf("invalid search type %q", st)
		}
	}
	return params, nil
}
