// Command ledgerctl runs single ingest operations outside the long-running service.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"Mail2Ledger/internal/ai"
	"Mail2Ledger/internal/appmanager"
	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/ingest"
	"Mail2Ledger/internal/mailbox"
	"Mail2Ledger/internal/slicer"
	"Mail2Ledger/internal/workbook"
)

var (
	configPath string
	pretty     bool

	clientID   int64
	bankName   string
	headerRow  int
	sheetNames []string
	password   string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the statement ingest pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("MAIL2LEDGER_CONFIG", "mail2ledger.yaml"), "Config file path")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Pretty-print JSON output")

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Poll every configured source once",
		Args:  cobra.NoArgs,
		RunE:  runOnce,
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest [file.xlsx]",
		Short: "Ingest one spreadsheet from disk",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}
	ingestCmd.Flags().Int64Var(&clientID, "client-id", 0, "Client id stamped on every record (required)")
	ingestCmd.Flags().StringVar(&bankName, "bank", "", "Bank code; selects the banks section")
	ingestCmd.Flags().IntVar(&headerRow, "header-row", -1, "0-based header offset; disables table detection")
	ingestCmd.Flags().StringSliceVar(&sheetNames, "sheets", nil, "Sheet names or 0-based indexes")
	ingestCmd.Flags().StringVar(&password, "password", "", "Workbook password")
	_ = ingestCmd.MarkFlagRequired("client-id")

	detectCmd := &cobra.Command{
		Use:   "detect [file.xlsx]",
		Short: "Print the table boundaries the detector finds",
		Args:  cobra.ExactArgs(1),
		RunE:  runDetect,
	}
	detectCmd.Flags().StringSliceVar(&sheetNames, "sheets", nil, "Sheet names or 0-based indexes")
	detectCmd.Flags().StringVar(&password, "password", "", "Workbook password")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger and registry tables",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}

	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize mailbox access and store the token",
		Args:  cobra.NoArgs,
		RunE:  runAuth,
	}

	rootCmd.AddCommand(onceCmd, ingestCmd, detectCmd, migrateCmd, authCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(v any) error {
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("serialization failed: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, pool, err := appmanager.OpenDatabases(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	defer pool.Close()

	c, err := appmanager.BuildComponents(ctx, cfg, db, pool)
	if err != nil {
		return err
	}
	stats, runErr := c.Poller.RunOnce(ctx, cfg.Sources)
	if err := printJSON(stats); err != nil {
		return err
	}
	return runErr
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("file not found: %s", path)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	meta := config.Overrides{BankName: bankName, SheetNames: sheetNames, Password: password}
	if headerRow >= 0 {
		meta.HeaderRow = &headerRow
	}
	settings := cfg.Resolve(config.SourceConfig{Label: "cli", ClientID: clientID}, meta)

	db, pool, err := appmanager.OpenDatabases(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	defer pool.Close()

	pipeline, err := appmanager.BuildPipeline(ctx, cfg, pool)
	if err != nil {
		return err
	}
	res, ingestErr := pipeline.IngestFile(ctx, ingest.Job{FileName: filepath.Base(path), Data: data, Settings: settings})
	if err := printJSON(res); err != nil {
		return err
	}
	if ingestErr == nil && res.Inserted == 0 {
		return ingest.ErrZeroRows
	}
	return ingestErr
}

type detectedSheet struct {
	Sheet  string             `json:"sheet"`
	Index  int                `json:"index"`
	Tables []slicer.TableSpec `json:"tables"`
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("file not found: %s", path)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	wb, err := workbook.Read(filepath.Base(path), data, password)
	if err != nil {
		return err
	}
	sheets, err := wb.Select(sheetNames)
	if err != nil {
		return err
	}
	gen, err := ai.NewGeminiGenerator(ctx, cfg.AI)
	if err != nil {
		return err
	}
	det := ai.NewDetector(gen)

	out := make([]detectedSheet, 0, len(sheets))
	for _, sh := range sheets {
		specs, err := det.DetectTables(ctx, sh.Name, workbook.Window(sh.Grid, cfg.AI.DetectRows, cfg.AI.DetectCols))
		if err != nil {
			return fmt.Errorf("detect %s: %w", sh.Name, err)
		}
		out = append(out, detectedSheet{Sheet: sh.Name, Index: sh.Index, Tables: specs})
	}
	return printJSON(out)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, pool, err := appmanager.OpenDatabases(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	defer pool.Close()
	if err := appmanager.Migrate(ctx, cfg, db, pool); err != nil {
		return err
	}
	fmt.Printf("ledger %s.%s and registry %s.%s are ready\n",
		cfg.Ingest.Schema, cfg.Ingest.Table, cfg.Ingest.Schema, cfg.Ingest.RegistryTable)
	return nil
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	oc, err := mailbox.OAuthConfig(cfg.Mail.CredentialsPath)
	if err != nil {
		return err
	}
	fmt.Printf("Open this URL, approve access and paste the code:\n%s\n> ", oc.AuthCodeURL("state-token"))
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read code: %w", err)
	}
	tok, err := oc.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	if err := mailbox.SaveToken(cfg.Mail.TokenPath, tok); err != nil {
		return err
	}
	fmt.Println("token saved to", cfg.Mail.TokenPath)
	return nil
}
