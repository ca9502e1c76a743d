package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"evmstack/internal/driver"
	"evmstack/internal/ui"
)

type layoutOutcome struct {
	results []*driver.Result
	err     error
}

// runWithUI lays out files while a progress view renders the driver's
// events on stderr.
func runWithUI(ctx context.Context, title string, files []string, opts *driver.Options) ([]*driver.Result, error) {
	events := make(chan driver.Event, 256)
	outcomeCh := make(chan layoutOutcome, 1)

	go func() {
		optsCopy := *opts
		optsCopy.Progress = driver.ChannelSink{Ch: events}
		results, err := driver.LayoutFiles(ctx, files, &optsCopy)
		outcomeCh <- layoutOutcome{results: results, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, files, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr))
	_, uiErr := program.Run()
	if uiErr != nil {
		// keep the producer from blocking on a view that is gone
		go func() {
			for range events {
			}
		}()
	}
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.results, uiErr
	}
	return outcome.results, outcome.err
}
