package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/output"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/scanner"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/ui"
)

func newScanCommand(a *app) *cobra.Command {
	var dryRun bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan DIR",
		Short: "Import every statement below DIR; the first directory level is the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			root := args[0]

			if !asJSON {
				ui.Header("Importing Statements")
				ui.Step(1, 2, "Scanning directory")
			}
			files, err := scanner.New(root).Scan()
			if err != nil {
				return fmt.Errorf("failed to scan directory %s: %w", root, err)
			}
			if len(files) == 0 {
				return fmt.Errorf("no statement files found in %s\n\nPlease check:\n  - Files are inside an account directory ({root}/{account}/file)\n  - Files have supported extensions (.ofx, .qfx, .csv, .xlsx, .xls)", root)
			}
			if !asJSON {
				ui.Success(fmt.Sprintf("Found %d statement files", len(files)))
			}

			imp, err := a.newImporter(ctx)
			if err != nil {
				return err
			}
			defer imp.close()

			if !asJSON {
				ui.Step(2, 2, "Importing")
			}
			report := output.ScanReport{Root: root}
			for _, file := range files {
				if err := ctx.Err(); err != nil {
					return err
				}
				fr := output.FileReport{Path: file.Path, AccountID: file.AccountID}

				sess, err := imp.stageFile(ctx, file.Path, file.AccountID)
				if err != nil {
					fr.Error = err.Error()
					report.Add(fr)
					if !asJSON {
						ui.Error(fmt.Sprintf("%s: %v", file.Path, err))
					}
					continue
				}

				if dryRun {
					view := sess.View()
					sess.Discard()
					if !asJSON {
						ui.Info(fmt.Sprintf("%s [%s]: %d new, %d duplicates", file.Path, file.AccountID, view.NewCount, view.DuplicateCount))
					}
					continue
				}

				log, err := commitSession(ctx, imp, sess)
				fr.Log = log
				if err != nil {
					fr.Error = err.Error()
				}
				report.Add(fr)
				if !asJSON && log != nil {
					ui.ImportSummary(log)
				} else if !asJSON {
					ui.Error(fmt.Sprintf("%s: %v", file.Path, err))
				}
			}

			if asJSON {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else if dryRun {
				ui.Success(fmt.Sprintf("Dry run complete. Would process %d files.", len(files)))
			} else {
				ui.Success(fmt.Sprintf("%d transactions imported from %d files", report.Imported, len(files)))
			}

			if report.Failed > 0 {
				return fmt.Errorf("%d of %d files failed to import", report.Failed, len(files))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "stage files without committing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print a JSON report")
	return cmd
}
