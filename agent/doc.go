// Copyright 2026 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent provides the LLM-backed Worker used by crews.

# Overview

A Worker wraps an llm.Provider with a persona (role, goal, backstory), a
per-worker ToolRegistry and execution limits. Execute runs a bounded
refinement loop and always returns an Outcome:

	┌──────────────┐   tool calls    ┌──────────────┐
	│   Provider   │ ──────────────▶ │ ToolRegistry │
	│   (Invoke)   │ ◀────────────── │  (Execute)   │
	└──────┬───────┘   tool results  └──────────────┘
	       │ final answer
	       ▼
	Result | DelegationRequest | ClarificationRequest | Failure

# Limits

  - MaxIterations bounds provider round-trips. The last round is sent
    without tools so the model has to answer.
  - MaxExecutionTime (and the caller's deadline) yields Failure "timeout".
    A provider that ignores cancellation is abandoned; its reply is dropped.
  - MaxInFlight bounds concurrent Execute calls (x/sync semaphore).
  - MaxRPM paces provider calls (x/time/rate).

# Delegation and clarification

The model asks for delegation or human input either through the built-in
tools delegate_work and ask_human, or with a leading text marker:

	DELEGATE TO: Researcher
	TASK: collect the three most cited papers

	CLARIFY: which fiscal year?

A worker with AllowDelegation unset converts any DelegationRequest into a
Failure before returning.

# Events

Execute publishes WorkerExecutionStarted and then WorkerExecutionCompleted
or WorkerExecutionFailed on the configured event.Bus.
*/
package agent
