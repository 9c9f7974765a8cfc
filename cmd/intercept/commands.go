package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kasperhn/intercept/internal/config"
	"github.com/kasperhn/intercept/internal/dataset"
	"github.com/kasperhn/intercept/internal/storage"
)

// openLocalStore opens the configured database directly. Project and export
// commands work against local data and do not need a running server or an
// OpenRouter key.
func openLocalStore() (*storage.Store, config.Config, error) {
	cfg, err := config.LoadLocal()
	if err != nil {
		return nil, config.Config{}, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("opening storage: %w", err)
	}
	return store, cfg, nil
}

// --- projects ---

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage capture projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openLocalStore()
		if err != nil {
			return err
		}
		defer store.Close()

		projects, err := store.ListProjects()
		if err != nil {
			return fmt.Errorf("listing projects: %w", err)
		}
		if len(projects) == 0 {
			fmt.Println("no projects")
			return nil
		}

		for _, p := range projects {
			state := "active"
			if !p.IsActive {
				state = "inactive"
			}
			fmt.Printf("%s  %s  (%s)\n", p.ID, p.Name, state)
		}
		return nil
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project and print its intercept key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		store, _, err := openLocalStore()
		if err != nil {
			return err
		}
		defer store.Close()

		p := storage.Project{
			ID:          uuid.New().String(),
			Name:        args[0],
			Description: description,
			CreatedAt:   time.Now().UTC(),
			IsActive:    true,
		}
		if err := store.CreateProject(p); err != nil {
			return fmt.Errorf("creating project: %w", err)
		}

		k := storage.CallKey{
			ID:        uuid.New().String(),
			ProjectID: p.ID,
			Key:       storage.NewCallKeyValue(),
			CreatedAt: time.Now().UTC(),
			IsActive:  true,
		}
		if err := store.CreateCallKey(k); err != nil {
			return fmt.Errorf("creating call key: %w", err)
		}

		printSuccess("Created project %s (%s)", p.Name, p.ID)
		fmt.Printf("intercept key: %s\n", k.Key)
		fmt.Println("send it as the X-Intercept-Key header to capture completions")
		return nil
	},
}

func init() {
	projectsCreateCmd.Flags().String("description", "", "project description")
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsCreateCmd)
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export fine-tuning datasets",
}

var exportSFTCmd = &cobra.Command{
	Use:   "sft",
	Short: "Export the SFT dataset for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		if projectID == "" {
			return fmt.Errorf("--project is required")
		}
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		store, cfg, err := openLocalStore()
		if err != nil {
			return err
		}
		defer store.Close()

		threshold := cfg.Datasets.SFTThreshold
		if cmd.Flags().Changed("sft-threshold") {
			threshold, _ = cmd.Flags().GetFloat64("sft-threshold")
		}

		svc := dataset.NewService(store)
		convs, err := svc.GenerateSFT(cmd.Context(), projectID, threshold)
		if err != nil {
			return fmt.Errorf("generating dataset: %w", err)
		}

		var data []byte
		switch format {
		case "jsonl":
			data, err = dataset.EncodeJSONL(convs)
		case "", "json":
			data, err = dataset.EncodeJSON(convs)
		default:
			return fmt.Errorf("unknown format %q (want json or jsonl)", format)
		}
		if err != nil {
			return fmt.Errorf("encoding dataset: %w", err)
		}

		if err := writeOutput(output, data); err != nil {
			return err
		}
		printSuccess("Exported %d SFT conversations", len(convs))
		return nil
	},
}

var exportDPOCmd = &cobra.Command{
	Use:   "dpo",
	Short: "Export the DPO preference dataset for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		if projectID == "" {
			return fmt.Errorf("--project is required")
		}
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		store, cfg, err := openLocalStore()
		if err != nil {
			return err
		}
		defer store.Close()

		t := dataset.Thresholds{
			SFT:         cfg.Datasets.SFTThreshold,
			DPONegative: cfg.Datasets.DPONegativeThreshold,
		}
		if cmd.Flags().Changed("sft-threshold") {
			t.SFT, _ = cmd.Flags().GetFloat64("sft-threshold")
		}
		if cmd.Flags().Changed("dpo-threshold") {
			t.DPONegative, _ = cmd.Flags().GetFloat64("dpo-threshold")
		}

		svc := dataset.NewService(store)

		var (
			data  []byte
			count int
		)
		switch format {
		case "hub", "hub-jsonl":
			pairs, genErr := svc.GenerateDPOHub(cmd.Context(), projectID, t)
			if genErr != nil {
				return fmt.Errorf("generating dataset: %w", genErr)
			}
			count = len(pairs)
			if format == "hub-jsonl" {
				data, err = dataset.EncodeJSONL(pairs)
			} else {
				data, err = dataset.EncodeJSON(pairs)
			}
		case "jsonl", "", "json":
			pairs, genErr := svc.GenerateDPO(cmd.Context(), projectID, t)
			if genErr != nil {
				return fmt.Errorf("generating dataset: %w", genErr)
			}
			count = len(pairs)
			if format == "jsonl" {
				data, err = dataset.EncodeJSONL(pairs)
			} else {
				data, err = dataset.EncodeJSON(pairs)
			}
		default:
			return fmt.Errorf("unknown format %q (want json, jsonl, hub, or hub-jsonl)", format)
		}
		if err != nil {
			return fmt.Errorf("encoding dataset: %w", err)
		}

		if err := writeOutput(output, data); err != nil {
			return err
		}
		printSuccess("Exported %d DPO pairs", count)
		return nil
	},
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{exportSFTCmd, exportDPOCmd} {
		c.Flags().String("project", "", "project ID (required)")
		c.Flags().String("format", "json", "output format")
		c.Flags().String("output", "", "output file path (default: stdout)")
		c.Flags().Float64("sft-threshold", 0, "minimum average reward for the positive side")
	}
	exportDPOCmd.Flags().Float64("dpo-threshold", 0, "average reward below which a candidate is a negative")
	exportCmd.AddCommand(exportSFTCmd)
	exportCmd.AddCommand(exportDPOCmd)
}
