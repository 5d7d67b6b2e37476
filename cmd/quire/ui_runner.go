package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"quire/internal/buildpipeline"
	"quire/internal/ui"
)

type buildOutcome struct {
	result buildpipeline.Result
	err    error
}

// runBuildWithUI runs one build of s while the progress UI renders its
// events. Quitting the UI (ctrl+c) cancels the build.
func runBuildWithUI(ctx context.Context, title string, s *buildpipeline.Session) (buildpipeline.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan buildpipeline.Event, 256)
	outcomeCh := make(chan buildOutcome, 1)
	s.SetProgress(buildpipeline.ChannelSink{Ch: events, Done: ctx.Done()})
	defer s.SetProgress(nil)

	go func() {
		res, err := s.Rebuild(ctx)
		outcomeCh <- buildOutcome{result: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout), tea.WithContext(ctx))
	_, uiErr := program.Run()
	// the UI may have quit early; stop the build and drain what is left
	cancel()
	for range events {
	}
	outcome := <-outcomeCh
	if outcome.err != nil {
		return outcome.result, outcome.err
	}
	return outcome.result, uiErr
}
