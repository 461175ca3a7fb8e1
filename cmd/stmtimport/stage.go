package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/output"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/pipeline"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/store"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/ui"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/validate"
)

func newStageCommand(a *app) *cobra.Command {
	var accountID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stage FILE",
		Short: "Parse a statement and show what would be imported, without writing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			imp, err := a.newImporter(ctx)
			if err != nil {
				return err
			}
			defer imp.close()

			sess, err := imp.stageFile(ctx, args[0], accountID)
			if err != nil {
				return err
			}
			defer sess.Discard()

			if asJSON {
				return writeJSON(cmd, sess.View())
			}
			printReview(sess.View())
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "account the statement belongs to (required)")
	_ = cmd.MarkFlagRequired("account")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the staged import as JSON")
	return cmd
}

func newImportCommand(a *app) *cobra.Command {
	var accountID string
	var recategorize []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Parse a statement and commit its new transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseOverrides(recategorize)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			imp, err := a.newImporter(ctx)
			if err != nil {
				return err
			}
			defer imp.close()

			if !asJSON {
				ui.Header("Importing " + args[0])
				ui.Step(1, 3, "Staging")
			}
			sess, err := imp.stageFile(ctx, args[0], accountID)
			if err != nil {
				return err
			}

			if !asJSON {
				printReview(sess.View())
				ui.Step(2, 3, "Reviewing")
			}
			if err := applyOverrides(sess, overrides); err != nil {
				sess.Discard()
				return err
			}
			if !asJSON {
				reportValidation(sess.Transactions())
				ui.Step(3, 3, "Committing")
			}

			log, err := commitSession(ctx, imp, sess)
			if log != nil {
				if asJSON {
					if werr := writeJSON(cmd, log); werr != nil {
						return werr
					}
				} else {
					ui.ImportSummary(log)
					printAccountTotal(ctx, imp, accountID)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "account the statement belongs to (required)")
	_ = cmd.MarkFlagRequired("account")
	cmd.Flags().StringArrayVar(&recategorize, "recategorize", nil, "override a category before commit, as HASH=CATEGORY (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the import log as JSON")
	return cmd
}

// commitSession commits and turns the outcome into the command result. A
// log that could not be persisted is only a warning; an import where every
// row failed is an error.
func commitSession(ctx context.Context, imp *importer, sess *pipeline.Session) (*domain.ImportLog, error) {
	log, err := imp.pipeline.Commit(ctx, sess, nil)

	var persistErr *domain.LogPersistenceError
	if errors.As(err, &persistErr) {
		ui.Warning(persistErr.Error())
		err = nil
	}
	if err != nil {
		return nil, err
	}
	if log.Status == domain.ImportStatusError {
		return log, fmt.Errorf("import of %s failed: %d of %d rows could not be written", log.FileName, log.ErrorCount, log.TotalRecords)
	}
	return log, nil
}

// printAccountTotal reports how many rows the account holds after an import
func printAccountTotal(ctx context.Context, imp *importer, accountID string) {
	counter, ok := imp.store.(store.Counter)
	if !ok {
		return
	}
	n, err := counter.CountTransactions(ctx, accountID)
	if err != nil {
		ui.Warning(fmt.Sprintf("could not count transactions of %s: %v", accountID, err))
		return
	}
	ui.Info(fmt.Sprintf("account %s now holds %d transactions", accountID, n))
}

// parseOverrides reads HASH=CATEGORY pairs
func parseOverrides(pairs []string) (map[string]domain.Category, error) {
	overrides := make(map[string]domain.Category, len(pairs))
	for _, pair := range pairs {
		hash, category, ok := strings.Cut(pair, "=")
		hash = strings.TrimSpace(hash)
		category = strings.TrimSpace(category)
		if !ok || hash == "" || category == "" {
			return nil, fmt.Errorf("invalid --recategorize %q (expected HASH=CATEGORY)", pair)
		}
		overrides[hash] = domain.Category(category)
	}
	return overrides, nil
}

func applyOverrides(sess *pipeline.Session, overrides map[string]domain.Category) error {
	for hash, category := range overrides {
		if err := sess.ReassignCategory(hash, category); err != nil {
			return fmt.Errorf("cannot recategorize %s as %q: %w", hash, category, err)
		}
		ui.Info(fmt.Sprintf("%s → %s", hash, category))
	}
	return nil
}

func printReview(view pipeline.View) {
	ui.Success(fmt.Sprintf("%d transactions (%d new, %d duplicates) from %s", view.TotalRecords, view.NewCount, view.DuplicateCount, view.FileType))
	if view.Skipped > 0 {
		ui.Warning(fmt.Sprintf("%d rows skipped", view.Skipped))
		for _, reason := range view.SkipReasons {
			ui.Info(reason)
		}
	}
	for i, txn := range view.Transactions {
		ui.Transaction(i+1, txn)
	}
}

// reportValidation warns about rows that will be rejected or look suspicious
func reportValidation(txns []domain.ImportedTransaction) {
	result := validate.ValidateStaged(txns)
	for _, w := range result.Warnings {
		ui.Warning(fmt.Sprintf("row %d: %s", w.Row, w.Message))
	}
	for _, e := range result.Errors {
		ui.Warning(e.Error())
	}
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	return output.WriteJSON(v, cmd.OutOrStdout())
}
