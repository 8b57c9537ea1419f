package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"whisperflow/internal/media"
	"whisperflow/internal/pipeline"
	"whisperflow/internal/services"
	"whisperflow/internal/services/whisperx"
	"whisperflow/internal/stage"
	"whisperflow/internal/subtitles"
	"whisperflow/internal/transcript"
)

type transcribeFlags struct {
	align       bool
	chars       bool
	diarize     bool
	batchSize   int
	computeType string
	format      string
	output      string
	speakers    bool
}

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var flags transcribeFlags

	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe an audio or video file",
		Long: "Transcribe an .mp3, .wav, .m4a, or .mp4 file. Segments are printed as a table\n" +
			"unless --output is given, in which case the subtitle artifact is written there.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscribe(cmd, ctx, args[0], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.align, "align", false, "Align words after transcription")
	cmd.Flags().BoolVar(&flags.chars, "char-alignments", false, "Include character spans (requires --align)")
	cmd.Flags().BoolVar(&flags.diarize, "diarize", false, "Label speakers (requires a Hugging Face token)")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "Inference batch size (1-32)")
	cmd.Flags().StringVar(&flags.computeType, "compute-type", "", "Compute type: int8 or float16")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "srt", "Artifact format: srt or txt")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write the artifact to this file or directory")
	cmd.Flags().BoolVar(&flags.speakers, "speakers", false, "Prefix artifact lines with speaker labels")
	return cmd
}

func runTranscribe(cmd *cobra.Command, ctx *commandContext, path string, flags transcribeFlags) error {
	if _, err := media.CheckUpload(path); err != nil {
		return err
	}
	format, err := subtitles.ParseFormat(flags.format)
	if err != nil {
		return err
	}
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}

	opts, err := transcribeOptions(cmd, pipeline.OptionsFromConfig(cfg.Processing), flags)
	if err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	fallback, err := pipeline.ParseAlignmentFallback(cfg.Pipeline.AlignmentFallback)
	if err != nil {
		return err
	}

	var token string
	if opts.Diarize {
		store, err := ctx.tokenStore()
		if err != nil {
			return err
		}
		if token, _, err = store.Token(); err != nil {
			return err
		}
		if token == "" {
			return services.Wrap(services.ErrMissingCredential, "", "load token",
				"diarization requires a Hugging Face token; run `whisperflow token set`", nil)
		}
	}

	release, err := pipeline.NewRunLock(cfg.Paths.LockFile).TryAcquire()
	if err != nil {
		return err
	}
	defer release()

	runCtx := cmd.Context()
	wave, err := buildProvider(cfg, logger).LoadFile(runCtx, path)
	if err != nil {
		return err
	}
	defer wave.Cleanup()

	stderr := cmd.ErrOrStderr()
	orch := pipeline.New(buildModels(cfg, logger),
		pipeline.WithLogger(logger),
		pipeline.WithAlignmentFallback(fallback),
		pipeline.WithProgress(func(evt pipeline.Event) {
			fmt.Fprintf(stderr, "%3d%%  %-12s %s\n", evt.Progress, stage.Label(string(evt.State)), evt.Message)
		}),
	)
	run, err := orch.Execute(runCtx, pipeline.Request{Waveform: wave, Options: opts, Token: token})
	if err != nil {
		return err
	}
	for _, warning := range run.Warnings() {
		fmt.Fprintf(stderr, "%s %s\n", warnLabel(stderr), warning)
	}
	result, _ := run.Result()

	if strings.TrimSpace(flags.output) == "" {
		return printSegments(cmd.OutOrStdout(), result)
	}
	target, err := writeArtifact(result, format, flags, wave.Seconds(), stderr)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", target)
	return nil
}

// transcribeOptions overlays explicitly set flags on the configured defaults.
func transcribeOptions(cmd *cobra.Command, opts pipeline.Options, flags transcribeFlags) (pipeline.Options, error) {
	changed := cmd.Flags().Changed
	if changed("align") {
		opts.Align = flags.align
	}
	if changed("char-alignments") {
		opts.ReturnCharAlignments = flags.chars
	}
	if changed("diarize") {
		opts.Diarize = flags.diarize
	}
	if changed("batch-size") {
		opts.BatchSize = flags.batchSize
	}
	if changed("compute-type") {
		ct, err := pipeline.ParseComputeType(flags.computeType)
		if err != nil {
			return opts, err
		}
		opts.ComputeType = ct
	}
	return opts, nil
}

func writeArtifact(result transcript.Result, format subtitles.FormatType, flags transcribeFlags, mediaSeconds float64, warn io.Writer) (string, error) {
	content, filename, err := subtitles.FormatWith(result, format, subtitles.FormatOptions{TrimText: true, SpeakerPrefix: flags.speakers})
	if err != nil {
		return "", err
	}
	if format == subtitles.FormatSRT {
		for _, issue := range subtitles.ValidateSRT(content, mediaSeconds) {
			fmt.Fprintf(warn, "%s %s\n", warnLabel(warn), issue)
		}
	}

	target := flags.output
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		target = filepath.Join(target, filename)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return target, nil
}

func printSegments(out io.Writer, result transcript.Result) error {
	colorize := shouldColorize(out)
	language := result.Language
	if name := whisperx.DisplayName(language); name != "" && name != language {
		language = fmt.Sprintf("%s (%s)", name, result.Language)
	}
	fmt.Fprintf(out, "%s %s\n", paint(colorize, ansiBold, "Language:"), language)
	if len(result.Segments) == 0 {
		fmt.Fprintln(out, "No speech detected")
		return nil
	}

	fmt.Fprintln(out, renderSegments(result))
	return nil
}

func renderSegments(result transcript.Result) string {
	withSpeakers := len(result.Speakers()) > 0
	headers := []string{"Time", "Text"}
	if withSpeakers {
		headers = []string{"Time", "Speaker", "Text"}
	}
	rows := make([][]string, 0, len(result.Segments))
	for _, seg := range result.Segments {
		span := fmt.Sprintf("[%.2fs - %.2fs]", seg.Start, seg.End)
		text := strings.TrimSpace(seg.Text)
		if withSpeakers {
			rows = append(rows, []string{span, seg.Speaker, text})
		} else {
			rows = append(rows, []string{span, text})
		}
	}
	return renderTable(headers, rows, nil)
}

func warnLabel(w io.Writer) string {
	return paint(shouldColorize(w), ansiYellow, "warning:")
}
