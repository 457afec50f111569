package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/glimte/docflow/workflow"
	"github.com/spf13/cobra"
)

func newReconstructCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconstruct <file|->",
		Short: "Repair a stored stage array offline",
		Long: `Reads an envelope document, or a bare workflow_stages array, as JSON and
prints the reconstructed workflow: which stage is current and which stages
can start. Nothing is written back. Use "-" to read standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return reconstruct(in, cmd.OutOrStdout())
		},
	}
}

type reconstructOutput struct {
	Workflow     workflow.WorkflowDescriptor `json:"workflow"`
	CurrentStage int                         `json:"current_stage"`
	Changed      bool                        `json:"changed"`
}

func reconstruct(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var record workflow.EnvelopeRecord
	trimmed := bytes.TrimSpace(data)
	bare := len(trimmed) > 0 && trimmed[0] == '['
	if bare {
		if err := json.Unmarshal(trimmed, &record.WorkflowStages); err != nil {
			return fmt.Errorf("invalid stage array: %w", err)
		}
		record.WorkflowStatus = workflow.WorkflowInProgress
	} else if err := json.Unmarshal(trimmed, &record); err != nil {
		return fmt.Errorf("invalid envelope document: %w", err)
	}

	desc, current := workflow.Describe(&record)
	stored := record.WorkflowStages
	if stored == nil {
		stored = []workflow.Stage{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reconstructOutput{
		Workflow:     desc,
		CurrentStage: current,
		Changed:      !reflect.DeepEqual(desc.Stages, stored) || (!bare && current != record.CurrentStage),
	})
}
