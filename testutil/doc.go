/*
Package testutil provides shared helpers for tests across the project.

# Overview

testutil carries the small pieces many package tests need: bounded test
contexts, polling waits for asynchronous state, and JSON conveniences for
building test data. Assertions themselves stay with testify; this package
only covers what testify does not.

# Subpackages

  - testutil/mocks: configurable fakes for the engine's collaborators,
    most importantly MockOracle (scripted replies, fault injection, call
    recording) plus canned code runners, action recorders and approval
    policies for the workflow strategies
  - testutil/fixtures: factories for plan text, task specs, task graphs
    and workflow configs

# Usage

	ctx := testutil.TestContext(t)
	back := mocks.NewScriptedOracle("first reply", "second reply")
	resp, err := back.Complete(ctx, oracle.Request{Prompt: "p"})
*/
package testutil
