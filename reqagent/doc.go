// Package reqagent implements a declarative, rule-constrained agent
// execution loop.
//
// A Runner repeatedly queries a chat model, interprets its output as
// either tool invocations or a final answer, and converges to a single
// terminal answer. Tool usage is governed by Requirements: pluggable
// rule producers evaluated fresh each iteration against the accumulating
// RunState. A Reasoner aggregates the Rules they emit into one resolved
// request per iteration — which tools are invocable, which one is
// forced, and whether stopping is currently permitted. A ToolCallChecker
// detects and breaks infinite tool-call cycles.
//
// The loop terminates through the FinalAnswerTool, a synthetic tool
// whose invocation records the answer on the RunState. Free text from
// the model is coerced into a final-answer call when stopping is
// permitted.
//
// # Quick Start
//
//	runner, err := reqagent.NewRunner(client, tools,
//	    []reqagent.Requirement{req},
//	    reqagent.WithModel("claude-sonnet-4-5"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer runner.Close()
//
//	runner.AddMessages(llmkit.UserMessage("Write a haiku"))
//	state, err := runner.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(state.Answer.Text)
package reqagent
