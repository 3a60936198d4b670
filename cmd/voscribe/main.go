package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"
	"voscribe/internal/capture"
	"voscribe/internal/settings"
	"voscribe/internal/uploader"
	"voscribe/pkg/logger"
	"voscribe/pkg/model"

	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

// pollOptions is the wait budget for CLI transcript waits, wider than the
// client default because a full recording can take a while to settle.
var pollOptions = uploader.PollOptions{MaxAttempts: 60, Interval: 2 * time.Second}

var (
	debug     bool
	serverURL string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "voscribe: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voscribe",
		Short: "Record audio and transcribe it through the voscribe service",
		Long: `voscribe records microphone audio, splits it into bounded chunks, uploads
them to the voscribe service and prints the transcript once transcription
completes. Diagnostics go to stderr; transcripts go to stdout.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.InitConsole(debug)
		},
	}
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "voscribe API base URL")
	cmd.AddCommand(
		newRecordCmd(),
		newTranscribeCmd(),
		newListCmd(),
		newStatusCmd(),
		newDevicesCmd(),
		newSettingsCmd(),
	)
	return cmd
}

// newAPIClient loads client settings and builds the upload client
func newAPIClient() (*uploader.Client, settings.Settings, error) {
	path, err := settings.DefaultPath()
	if err != nil {
		return nil, settings.Settings{}, err
	}
	cfg, err := settings.NewStore(path).Load()
	if err != nil {
		return nil, settings.Settings{}, err
	}

	client := uploader.NewClient(uploader.Config{
		BaseURL: serverURL,
		APIKey:  cfg.APIKey,
	})
	return client, cfg, nil
}

func newTranscribeCmd() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Upload an audio file and print its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newAPIClient()
			if err != nil {
				return err
			}

			res, err := client.UploadFile(cmd.Context(), args[0], model.SourceUpload)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Uploaded as recording %s\n", res.RecordingID)

			if noWait {
				fmt.Println(res.RecordingID)
				return nil
			}

			return awaitAndPrint(cmd.Context(), client, res.RecordingID)
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Print the recording id instead of waiting for the transcript")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent recordings, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newAPIClient()
			if err != nil {
				return err
			}

			recs, err := client.ListRecordings(cmd.Context())
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No recordings yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tDURATION\tCREATED")
			for _, rec := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.ID,
					rec.Source,
					rec.Status,
					formatDuration(rec.Duration),
					rec.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func newStatusCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "status <recording-id>",
		Short: "Show the status and transcript of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newAPIClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if wait {
				rec, err := client.AwaitCompletion(ctx, args[0], pollOptions)
				if err == nil {
					printRecording(rec)
					return nil
				}
				if !errors.Is(err, uploader.ErrAwaitTimeout) {
					return err
				}
				fmt.Fprintln(os.Stderr, "Still processing after the wait budget; showing current state.")
			}

			rec, err := client.GetRecording(ctx, args[0])
			if err != nil {
				return err
			}
			printRecording(rec)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the recording settles")
	return cmd
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices and check service connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			source := capture.NewPortAudioSource()
			devices, err := source.Devices(cmd.Context())
			if err != nil {
				return deviceErr(err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DEVICE\tSAMPLE RATE\tCHANNELS\tDEFAULT")
			for _, dev := range devices {
				def := ""
				if dev.Default {
					def = "*"
				}
				fmt.Fprintf(w, "%s\t%.0f Hz\t%d\t%s\n", dev.Name, dev.SampleRate, dev.Channels, def)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			client, _, err := newAPIClient()
			if err != nil {
				return err
			}
			probeCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := client.Health(probeCtx); err != nil {
				fmt.Printf("\nService: unreachable at %s (%v)\n", serverURL, err)
				return nil
			}
			fmt.Printf("\nService: healthy at %s\n", serverURL)
			return nil
		},
	}
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change client settings",
	}
	cmd.AddCommand(newSettingsShowCmd(), newSettingsSetCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := settings.DefaultPath()
			if err != nil {
				return err
			}
			cfg, err := settings.NewStore(path).Load()
			if err != nil {
				return err
			}

			fmt.Printf("Settings file: %s\n", path)
			fmt.Printf("API key:       %s\n", maskKey(cfg.APIKey))
			fmt.Printf("Output dir:    %s\n", cfg.OutputDir)
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	var apiKey, outputDir string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the API key or output directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" && outputDir == "" {
				return errors.New("nothing to set: pass --api-key or --output-dir")
			}

			path, err := settings.DefaultPath()
			if err != nil {
				return err
			}
			store := settings.NewStore(path)
			cfg, err := store.Load()
			if err != nil {
				return err
			}

			if apiKey != "" {
				cfg.APIKey = apiKey
			}
			if outputDir != "" {
				cfg.OutputDir = outputDir
			}

			if err := store.Save(cfg); err != nil {
				return err
			}
			fmt.Println("Settings saved.")
			return nil
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Service API key (UUID form)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for local chunk archives")
	return cmd
}

// awaitAndPrint polls until the recording settles, then prints the outcome.
// A cancelled wait or an exhausted budget is not an error, the recording
// keeps processing server-side either way.
func awaitAndPrint(ctx context.Context, client *uploader.Client, recordingID string) error {
	fmt.Fprintln(os.Stderr, "Waiting for transcription...")

	rec, err := client.AwaitCompletion(ctx, recordingID, pollOptions)
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(os.Stderr, "Stopped waiting. Check later with: voscribe status %s\n", recordingID)
		return nil
	case errors.Is(err, uploader.ErrAwaitTimeout):
		fmt.Fprintf(os.Stderr, "Still processing. Check later with: voscribe status %s\n", recordingID)
		return nil
	case err != nil:
		return err
	}

	return printOutcome(rec)
}

// printOutcome prints a settled recording's transcript to stdout.
// A failed recording is a command failure.
func printOutcome(rec *model.Recording) error {
	switch rec.Status {
	case model.RecordingStatusCompleted:
		if rec.ErrorText != nil && *rec.ErrorText != "" {
			fmt.Fprintf(os.Stderr, "Note: %s\n", *rec.ErrorText)
		}
		if rec.Transcript == nil || *rec.Transcript == "" {
			fmt.Fprintln(os.Stderr, "Transcript is empty.")
			return nil
		}
		fmt.Println(*rec.Transcript)
		return nil
	case model.RecordingStatusFailed:
		if rec.ErrorText != nil && *rec.ErrorText != "" {
			return fmt.Errorf("transcription failed: %s", *rec.ErrorText)
		}
		return errors.New("transcription failed")
	default:
		fmt.Fprintf(os.Stderr, "Recording %s is %s.\n", rec.ID, rec.Status)
		return nil
	}
}

func printRecording(rec *model.Recording) {
	fmt.Printf("ID:        %s\n", rec.ID)
	fmt.Printf("Source:    %s\n", rec.Source)
	fmt.Printf("Status:    %s\n", rec.Status)
	fmt.Printf("Duration:  %s\n", formatDuration(rec.Duration))
	fmt.Printf("Chunks:    %d total, %d processed, %d failed\n",
		rec.TotalChunks, rec.ProcessedChunks, rec.FailedChunks)
	fmt.Printf("Created:   %s\n", rec.CreatedAt.Local().Format(time.RFC1123))
	if rec.ErrorText != nil && *rec.ErrorText != "" {
		fmt.Printf("Error:     %s\n", *rec.ErrorText)
	}
	if rec.Transcript != nil && *rec.Transcript != "" {
		fmt.Printf("\n%s\n", *rec.Transcript)
	}
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}

func maskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) < 13 {
		return "********"
	}
	return key[:8] + "…"
}
