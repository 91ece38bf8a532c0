package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/aouyang1/framectl/api/client"
	"github.com/aouyang1/framectl/api/models"
	"github.com/aouyang1/framectl/controller"
	"github.com/aouyang1/framectl/util"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStateCommand(ctx *commandContext) *cobra.Command {
	var (
		asJSON    bool
		showFrame bool
	)

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the current image, queue, history and settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := ctx.frameClient()
			if err != nil {
				return err
			}
			if showFrame {
				frame, err := fc.CurrentFrame(cmd.Context())
				if err != nil {
					if client.IsNotFound(err) {
						return errors.New("the frame has no images")
					}
					return fmt.Errorf("fetch frame: %w", err)
				}
				if asJSON {
					return writeJSON(cmd, frame)
				}
				renderFrame(cmd, *frame)
				return nil
			}

			state, err := fc.GetState(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch state: %w", err)
			}
			if asJSON {
				return writeJSON(cmd, state)
			}
			renderState(cmd, *state)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw state as JSON")
	cmd.Flags().BoolVar(&showFrame, "frame", false, "Show the payload the display receives instead")
	return cmd
}

func renderState(cmd *cobra.Command, state models.State) {
	out := cmd.OutOrStdout()

	if cur := state.Current; cur != nil {
		fmt.Fprintln(out, renderTable("Now showing",
			[]string{"ID", "File", "Offset", "Uploaded"},
			[][]string{{cur.ID, cur.Filename, formatOffset(*cur), humanize.Time(cur.UploadedAt)}},
			nil,
		))
	} else {
		fmt.Fprintln(out, "Nothing is on the frame yet.")
	}

	readouts := controller.ReadoutsFor(state.Settings)
	fmt.Fprintln(out, renderTable("Settings",
		[]string{"Setting", "Value"},
		[][]string{
			{"Change interval", fmt.Sprintf("%ds", state.Settings.ChangeInterval)},
			{"Brightness", readouts.Brightness},
			{"Saturation", readouts.Saturation},
			{"Power on", yesNo(state.Settings.PowerOn)},
		},
		[]columnAlignment{alignLeft, alignRight},
	))

	fmt.Fprintln(out, renderTable(fmt.Sprintf("Queue (%d)", len(state.Queue)),
		[]string{"#", "ID", "File", "Uploaded"}, imageRows(state.Queue), []columnAlignment{alignRight}))
	fmt.Fprintln(out, renderTable(fmt.Sprintf("History (%d)", len(state.History)),
		[]string{"#", "ID", "File", "Uploaded"}, imageRows(state.History), []columnAlignment{alignRight}))
}

func renderFrame(cmd *cobra.Command, frame models.FramePayload) {
	size := base64.StdEncoding.DecodedLen(len(frame.ImageBase64))
	fmt.Fprintln(cmd.OutOrStdout(), renderTable("Frame payload",
		[]string{"Field", "Value"},
		[][]string{
			{"Image", frame.ImageID},
			{"File", frame.Filename},
			{"Type", frame.ContentType},
			{"Size", humanize.Bytes(uint64(size))},
			{"Offset", fmt.Sprintf("%+.2f, %+.2f", frame.OffsetX, frame.OffsetY)},
			{"Queued", strconv.Itoa(frame.Queued)},
			{"Generated", humanize.Time(frame.GeneratedAt)},
		},
		nil,
	))
}

func imageRows(images []models.Image) [][]string {
	rows := make([][]string, 0, len(images))
	for i, img := range images {
		rows = append(rows, []string{strconv.Itoa(i + 1), img.ID, img.Filename, humanize.Time(img.UploadedAt)})
	}
	return rows
}

func formatOffset(img models.Image) string {
	return fmt.Sprintf("%+.2f, %+.2f", img.OffsetX, img.OffsetY)
}

func newAdvanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "advance",
		Short: "Show the next queued image now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := ctx.frameClient()
			if err != nil {
				return err
			}
			if err := fc.AdvanceFrame(cmd.Context()); err != nil {
				if client.IsNotFound(err) {
					return errors.New("nothing to advance to: the frame has no images")
				}
				return fmt.Errorf("advance: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Advanced to the next image")
			return nil
		},
	}
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload images to the frame queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var total int64
			for _, path := range args {
				if !util.IsSupportedImage(path) {
					return fmt.Errorf("unsupported file: %s", path)
				}
				info, err := os.Stat(path)
				if err != nil {
					return err
				}
				total += info.Size()
			}

			fc, err := ctx.frameClient()
			if err != nil {
				return err
			}
			resp, err := fc.UploadPaths(cmd.Context(), args)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}

			rows := make([][]string, 0, len(resp.Added))
			for _, added := range resp.Added {
				rows = append(rows, []string{added.ID, added.Filename})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable("Uploaded", []string{"ID", "File"}, rows, nil))
			fmt.Fprintf(out, "Sent %d of %d files (%s)\n", len(resp.Added), len(args), humanize.Bytes(uint64(total)))
			return nil
		},
	}
}
