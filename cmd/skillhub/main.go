package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"skillhub/internal/app"
	"skillhub/internal/config"
	"skillhub/internal/manifest"
	"skillhub/internal/scheduler"
	"skillhub/internal/skillerr"
	"skillhub/internal/updates"
)

type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status: explicit ExitCoders
// first, then the error kind.
func exitCode(err error) int {
	if ex, ok := err.(ExitCoder); ok {
		return ex.ExitCode()
	}
	kind, ok := skillerr.KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case skillerr.KindValidation:
		return 2
	case skillerr.KindFilesystem:
		return 3
	case skillerr.KindAdapter:
		return 4
	case skillerr.KindState:
		return 5
	}
	return 1
}

type serviceFactory func() (*app.Service, error)

func newRootCmd() *cobra.Command {
	var configPath string
	var jsonOutput bool

	newSvc := func() (*app.Service, error) {
		return app.New(app.Options{ConfigPath: configPath})
	}

	cmd := &cobra.Command{
		Use:           "skillhub",
		Short:         "Stage skills once and deploy them into every AI product you use",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default $"+config.EnvConfigPath+" or the XDG config dir)")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")

	cmd.AddCommand(newRegisterCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newListCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newInstallCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newEnableCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newDisableCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newUninstallCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newRemoveCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newStatusCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newReconcileCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newCheckUpdatesCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newProductsCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newProductPathCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newRecoverCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newBackupsCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newHarvestCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newScheduleCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newAuditCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newDoctorCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newVersionCmd(&jsonOutput))

	return cmd
}

func newRegisterCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "register <dir|manifest|git-url>",
		Aliases: []string{"add", "import"},
		Short:   "Stage a skill and record it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			rec, err := svc.Register(cmd.Context(), args[0], app.Force(force))
			if err != nil {
				return err
			}
			return print(*jsonOutput, rec, fmt.Sprintf("registered %s@%s", rec.ID(), rec.Manifest.Version))
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "accept scan findings below critical")
	return cmd
}

func newListCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			records, err := svc.List()
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, records, "")
			}
			if len(records) == 0 {
				fmt.Println("no skills registered")
				return nil
			}
			for _, rec := range records {
				line := fmt.Sprintf("- %s@%s deployed=%s enabled=%s", rec.ID(), rec.Manifest.Version,
					joinOrNone(rec.DeployedProducts), joinOrNone(rec.EnabledProducts))
				if rec.HasUpdate {
					line += " (update available)"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

// parseMode accepts the --mode flag. Unknown strings are a usage error.
func parseMode(raw string) (manifest.InstallMode, error) {
	mode := manifest.ParseInstallMode(raw)
	if mode == manifest.ModeUnknown {
		return mode, &exitError{code: 2, msg: fmt.Sprintf("CLI_MODE: unknown install mode %q (auto|symlink|copy|configPatch)", raw)}
	}
	return mode, nil
}

func newInstallCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "install <skill> <product>",
		Short: "Prepare a product for a skill and record the deployment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			resolved, err := svc.Install(args[0], args[1], m)
			if err != nil {
				return err
			}
			payload := map[string]string{"skill": args[0], "product": args[1], "mode": string(resolved)}
			return print(*jsonOutput, payload, fmt.Sprintf("installed %s into %s (%s)", args[0], args[1], resolved))
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "auto", "install mode: auto|symlink|copy|configPatch")
	return cmd
}

func newEnableCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "enable <skill> <product>",
		Short: "Place a skill into a product",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.Enable(args[0], args[1], m)
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("enabled %s in %s (%s)", args[0], args[1], res.Mode)
			if res.BackupPath != "" {
				msg += "\nprevious artifact backed up to " + res.BackupPath
			}
			return print(*jsonOutput, res, msg)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "auto", "install mode: auto|symlink|copy|configPatch")
	return cmd
}

func newDisableCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <skill> <product>",
		Short: "Remove a skill's artifact from a product, keeping the deployment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			if err := svc.Disable(args[0], args[1]); err != nil {
				return err
			}
			return print(*jsonOutput, map[string]string{"disabled": args[0], "product": args[1]},
				fmt.Sprintf("disabled %s in %s", args[0], args[1]))
		},
	}
}

func newUninstallCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <skill> <product>",
		Short: "Disable a skill in a product and forget the deployment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			if err := svc.Uninstall(args[0], args[1]); err != nil {
				return err
			}
			return print(*jsonOutput, map[string]string{"uninstalled": args[0], "product": args[1]},
				fmt.Sprintf("uninstalled %s from %s", args[0], args[1]))
		},
	}
}

func newRemoveCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:     "remove <skill>",
		Aliases: []string{"rm"},
		Short:   "Uninstall a skill everywhere and drop its record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			if err := svc.Remove(args[0], purge); err != nil {
				return err
			}
			return print(*jsonOutput, map[string]any{"removed": args[0], "purged": purge}, "removed "+args[0])
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "also delete the staged payload")
	return cmd
}

func newStatusCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "status <skill>",
		Short: "Show where a skill is deployed and what each product reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			st, err := svc.Status(args[0])
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, st, "")
			}
			fmt.Printf("%s@%s\n", st.Record.ID(), st.Record.Manifest.Version)
			if len(st.Products) == 0 {
				fmt.Println("not deployed")
				return nil
			}
			for _, p := range st.Products {
				fmt.Printf("- %s: deployed=%t enabled=%t mode=%s (%s)\n", p.ProductID, p.Deployed, p.Enabled, p.Mode, p.Adapter.Detail)
			}
			return nil
		},
	}
}

func newReconcileCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Compare state with product directories and clear stale flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			drifts, err := svc.Reconcile()
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, drifts, "")
			}
			if len(drifts) == 0 {
				fmt.Println("state matches product directories")
				return nil
			}
			for _, d := range drifts {
				fixed := ""
				if d.Fixed {
					fixed = " [fixed]"
				}
				fmt.Printf("- %s/%s %s: %s%s\n", d.ProductID, d.SkillID, d.Kind, d.Detail, fixed)
			}
			return nil
		},
	}
}

func newCheckUpdatesCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "check-updates",
		Aliases: []string{"outdated"},
		Short:   "Check deployed git skills against their remotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			results, err := svc.CheckUpdates(cmd.Context())
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, results, "")
			}
			if len(results) == 0 {
				fmt.Println("no deployed skills to check")
				return nil
			}
			for _, r := range results {
				switch r.Status {
				case updates.StatusUpdateAvailable:
					fmt.Printf("- %s: update available (%s)\n", r.SkillID, r.Reason)
				case updates.StatusUnavailable:
					fmt.Printf("- %s: check unavailable (%s)\n", r.SkillID, r.Reason)
				default:
					fmt.Printf("- %s: %s\n", r.SkillID, r.Reason)
				}
			}
			return nil
		},
	}
}

func newProductsCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	productsCmd := &cobra.Command{
		Use:     "products",
		Aliases: []string{"product"},
		Short:   "List known products and whether they are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			products := svc.Products()
			if *jsonOutput {
				return print(true, products, "")
			}
			for _, p := range products {
				mark := " "
				if p.Detection.IsDetected {
					mark = "*"
				}
				modes := make([]string, 0, len(p.SupportedInstallModes))
				for _, m := range p.SupportedInstallModes {
					modes = append(modes, string(m))
				}
				fmt.Printf("%s %-10s %s modes=%s (%s)\n", mark, p.ID, p.SkillsDir, strings.Join(modes, ","), p.Detection.Reason)
			}
			return nil
		},
	}

	var name, detectPath string
	var modes []string
	addCmd := &cobra.Command{
		Use:   "add <id> <skills-dir>",
		Short: "Declare a custom product",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			p, err := svc.AddProduct(config.ProductConfig{
				ID: args[0], Name: name, SkillsDir: args[1], DetectPath: detectPath, InstallModes: modes,
			})
			if err != nil {
				return err
			}
			return print(*jsonOutput, p, fmt.Sprintf("added product %s (%s)", p.ID, p.SkillsDir))
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "display name")
	addCmd.Flags().StringVar(&detectPath, "detect-path", "", "path whose presence means the product is installed")
	addCmd.Flags().StringSliceVar(&modes, "modes", nil, "supported install modes in order of preference")

	removeCmd := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Drop a custom product",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			if err := svc.RemoveProduct(args[0]); err != nil {
				return err
			}
			return print(*jsonOutput, map[string]string{"removed": args[0]}, "removed product "+args[0])
		},
	}

	productsCmd.AddCommand(addCmd, removeCmd)
	return productsCmd
}

func newProductPathCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "product-path <product> [skills-dir]",
		Short: "Override where a product keeps its skills",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 2 {
				path = args[1]
			}
			if path == "" && !reset {
				return &exitError{code: 2, msg: "CLI_PRODUCT_PATH: give a directory or --reset"}
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			if err := svc.SetProductPath(args[0], path); err != nil {
				return err
			}
			msg := fmt.Sprintf("%s skills directory set to %s", args[0], path)
			if path == "" {
				msg = args[0] + " skills directory reset to default"
			}
			return print(*jsonOutput, map[string]string{"product": args[0], "path": path}, msg)
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the override")
	return cmd
}

func newRecoverCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Clean up after interrupted stagings",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report, err := svc.Recover()
			if err != nil {
				return err
			}
			return print(*jsonOutput, report, fmt.Sprintf("restored=%d dropped=%d removed-temps=%d",
				len(report.Restored), len(report.DroppedBackups), len(report.RemovedTemps)))
		},
	}
}

func newBackupsCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List product artifacts moved aside before overwrite",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			entries, err := svc.Backups()
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, entries, "")
			}
			if len(entries) == 0 {
				fmt.Println("no backups")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("- %s %s/%s %s\n", e.Timestamp, e.ProductID, e.SkillID, e.Path)
			}
			return nil
		},
	}
}

func newHarvestCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "harvest [product]",
		Short: "List skills in product directories that skillhub does not manage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			product := ""
			if len(args) == 1 {
				product = args[0]
			}
			candidates, err := svc.HarvestRun(product)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, candidates, "")
			}
			if len(candidates) == 0 {
				fmt.Println("no unmanaged skills found")
				return nil
			}
			for _, c := range candidates {
				switch {
				case !c.Valid:
					fmt.Printf("- %s %s (invalid: %s)\n", c.ProductID, c.Path, c.Reason)
				case c.Registered:
					fmt.Printf("- %s %s %s@%s (already registered)\n", c.ProductID, c.Path, c.SkillID, c.Version)
				default:
					fmt.Printf("- %s %s %s@%s (skillhub register %s)\n", c.ProductID, c.Path, c.SkillID, c.Version, c.Path)
				}
			}
			return nil
		},
	}
}

func newScheduleCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	show := func(st scheduler.Status, msg string) error {
		if *jsonOutput {
			return print(true, st, "")
		}
		fmt.Println(msg)
		for _, f := range st.Files {
			fmt.Printf("  %s\n", f)
		}
		for _, n := range st.Notes {
			fmt.Printf("  note: %s\n", n)
		}
		return nil
	}
	cmd := &cobra.Command{
		Use:   "schedule [interval]",
		Short: "Run check-updates periodically through systemd or launchd",
		Long:  "Installs a user timer that runs check-updates every interval (default " + scheduler.DefaultPeriod + ", minimum 15m).",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			interval := ""
			if len(args) == 1 {
				interval = args[0]
			}
			if _, err := scheduler.ParseInterval(interval); err != nil {
				return &exitError{code: 2, msg: err.Error()}
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			st, err := svc.Schedule(cmd.Context(), interval)
			if err != nil {
				return err
			}
			return show(st, fmt.Sprintf("scheduled check-updates every %s (%s)", st.Interval, st.Backend))
		},
	}
	offCmd := &cobra.Command{
		Use:   "off",
		Short: "Remove the scheduled update check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			st, err := svc.Unschedule(cmd.Context())
			if err != nil {
				return err
			}
			return show(st, "removed scheduled check-updates ("+st.Backend+")")
		},
	}
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the scheduled update check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			st, err := svc.ScheduleStatus()
			if err != nil {
				return err
			}
			if !st.Installed {
				return show(st, "check-updates is not scheduled")
			}
			return show(st, fmt.Sprintf("check-updates runs every %s (%s)", st.Interval, st.Backend))
		},
	}
	cmd.AddCommand(offCmd, statusCmd)
	return cmd
}

func newAuditCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			events, err := svc.AuditLog(limit)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, events, "")
			}
			for _, ev := range events {
				target := ev.Skill
				if ev.Product != "" {
					target += "@" + ev.Product
				}
				line := fmt.Sprintf("%s %-14s %-6s %s", ev.Timestamp, ev.Operation, ev.Status, target)
				if ev.Code != "" {
					line += " " + ev.Code
				}
				fmt.Println(strings.TrimRight(line, " "))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events to show (0 for all)")
	return cmd
}

func newDoctorCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag", "checkup"},
		Short:   "Run diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report := svc.DoctorRun(context.Background())
			if *jsonOutput {
				return print(true, report, "")
			}
			if len(report.Findings) == 0 {
				fmt.Println("healthy")
				return nil
			}
			if report.Healthy {
				fmt.Println("healthy, with notes:")
			} else {
				fmt.Println("issues found:")
			}
			for _, f := range report.Findings {
				fmt.Printf("- [%s] %s: %s\n", f.Level, f.Code, f.Message)
			}
			if !report.Healthy {
				return &exitError{code: 1, msg: "DOC_UNHEALTHY: doctor found errors"}
			}
			return nil
		},
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

func print(jsonOutput bool, payload any, message string) error {
	if jsonOutput {
		blob, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	}
	if message != "" {
		fmt.Println(message)
	}
	return nil
}
