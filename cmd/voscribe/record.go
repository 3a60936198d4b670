package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	"voscribe/internal/capture"
	"voscribe/internal/recorder"
	"voscribe/internal/settings"
	"voscribe/internal/uploader"
	"voscribe/pkg/logger"
	"voscribe/pkg/model"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRecordCmd() *cobra.Command {
	var (
		device    string
		segment   time.Duration
		source    string
		synthetic bool
		noWait    bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone and transcribe",
		Long: `Records until interrupted, splitting the session into bounded chunks that
upload as they are produced. The first Ctrl-C stops the session and flushes
buffered audio; a second Ctrl-C aborts and discards it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if source != model.SourceMicrophone && source != model.SourceSystem {
				return fmt.Errorf("invalid source %q: use %s or %s",
					source, model.SourceMicrophone, model.SourceSystem)
			}
			return runRecord(cmd.Context(), recordOptions{
				device:    device,
				segment:   segment,
				source:    source,
				synthetic: synthetic,
				noWait:    noWait,
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "Input device name (default system input)")
	cmd.Flags().DurationVar(&segment, "segment", recorder.DefaultSegmentDuration, "Chunk segment duration")
	cmd.Flags().StringVar(&source, "source", model.SourceMicrophone, "Recording source label (microphone or system)")
	cmd.Flags().BoolVar(&synthetic, "synthetic", false, "Record a generated test tone instead of the microphone")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Print the recording id instead of waiting for the transcript")
	return cmd
}

type recordOptions struct {
	device    string
	segment   time.Duration
	source    string
	synthetic bool
	noWait    bool
}

func runRecord(ctx context.Context, opts recordOptions) error {
	client, cfg, err := newAPIClient()
	if err != nil {
		return err
	}

	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = settings.DefaultSettings().OutputDir
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		logger.Warn("Cannot create output directory, local archive disabled",
			zap.String("dir", outputDir), zap.Error(err))
		outputDir = ""
	}

	var source capture.Source
	if opts.synthetic {
		s := capture.NewSyntheticSource()
		s.Realtime = true
		source = s
	} else {
		source = capture.NewPortAudioSource()
	}

	if _, err := source.Probe(ctx); err != nil {
		return deviceErr(err)
	}

	constraints := capture.DefaultConstraints()
	constraints.DeviceName = opts.device

	rec := recorder.New(source, recorder.Options{
		SegmentDuration: opts.segment,
		Constraints:     constraints,
		OutputDir:       outputDir,
	})

	// Uploads must survive the first interrupt (stop means flush, not drop),
	// so they run on their own context, cancelled only by an abort.
	uploadCtx, abort := context.WithCancel(context.Background())
	defer abort()

	// The session is driven off its own signal channel rather than ctx:
	// the root context cancels on the first signal and cannot distinguish
	// the stop from the abort.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := rec.Start(ctx); err != nil {
		return deviceErr(err)
	}

	fmt.Fprintf(os.Stderr, "Recording (%s segments). Press Ctrl-C to stop.\n", opts.segment)

	var (
		recordingID string
		uploaded    int
		failed      int
		stopping    bool
	)

	events := rec.Events()
loop:
	for {
		select {
		case <-sigCh:
			if !stopping {
				stopping = true
				fmt.Fprintln(os.Stderr, "\nStopping, flushing buffered audio (Ctrl-C again to abort)")
				go func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
					defer cancel()
					if err := rec.Stop(stopCtx); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
						logger.Warn("Stop failed", zap.Error(err))
					}
				}()
				continue
			}
			fmt.Fprintln(os.Stderr, "\nAborting, discarding buffered audio")
			abort()
			go func() {
				if err := rec.Abort(context.Background()); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
					logger.Warn("Abort failed", zap.Error(err))
				}
			}()
		case ev := <-events:
			switch ev.Type {
			case recorder.EventChunk:
				if uploadCtx.Err() != nil {
					continue
				}
				chunk := uploader.Chunk{
					Data:       ev.Chunk.Data,
					Source:     opts.source,
					Sequence:   ev.Chunk.Sequence,
					Duration:   ev.Chunk.Duration,
					CapturedAt: ev.Chunk.CapturedAt,
				}
				if ev.Chunk.Path != "" {
					chunk.Filename = filepath.Base(ev.Chunk.Path)
				}

				res, err := client.UploadChunk(uploadCtx, recordingID, chunk)
				if err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "Chunk %d upload failed: %v\n", ev.Chunk.Sequence, err)
					continue
				}
				if recordingID == "" {
					recordingID = res.RecordingID
					fmt.Fprintf(os.Stderr, "Recording %s\n", recordingID)
				}
				uploaded++
				fmt.Fprintf(os.Stderr, "Chunk %d uploaded (%s)\n",
					ev.Chunk.Sequence, formatDuration(ev.Chunk.Duration))
			case recorder.EventError:
				fmt.Fprintf(os.Stderr, "Capture error: %v\n", ev.Err)
			case recorder.EventStopped:
				break loop
			}
		}
	}

	if recordingID == "" {
		fmt.Fprintln(os.Stderr, "No audio uploaded.")
		return nil
	}

	summary := fmt.Sprintf("%d chunk(s) uploaded", uploaded)
	if failed > 0 {
		summary += fmt.Sprintf(", %d failed", failed)
	}
	fmt.Fprintln(os.Stderr, summary)

	if opts.noWait || uploadCtx.Err() != nil {
		fmt.Println(recordingID)
		return nil
	}

	// one more interrupt during the wait stops polling, nothing else
	pollCtx, cancelPoll := context.WithCancel(uploadCtx)
	defer cancelPoll()
	go func() {
		select {
		case <-sigCh:
			cancelPoll()
		case <-pollCtx.Done():
		}
	}()

	return awaitAndPrint(pollCtx, client, recordingID)
}

// deviceErr flattens a capture device failure into one line with its
// remediation hint
func deviceErr(err error) error {
	var de *capture.DeviceError
	if errors.As(err, &de) {
		return fmt.Errorf("%s. %s", de.Error(), de.Hint())
	}
	return err
}
