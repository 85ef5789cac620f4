// Package harness runs end-to-end sync scenarios against fake services.
//
// A scenario describes what the Bot API returns, what the workspace already
// holds, which workspace calls fail, and how many times the job runs. The
// harness starts telegramtest and fiberytest servers, drives the real
// telegram client, fibery client and engine against them, records every
// HTTP request in order, and evaluates the scenario's assertions.
//
// # Scenario Format
//
//	name: fresh_update
//	description: "What this scenario validates"
//	limit: 1
//	runs: 2
//	updates:
//	  - {update_id: 145, message: {text: autogenerated}}
//	existing:
//	  - {id: "...", sync_key: "tg:9", content: "original"}
//	unlinked: ["tg:7"]
//	faults:
//	  - {operation: create_entity, sync_key: "tg:2", status: 500}
//	golden: true
//	assertions:
//	  - {type: call_count, run: 2, operation: create_entity, count: 0}
//	  - {type: document_content, sync_key: "tg:145", content: autogenerated}
//
// Golden scenarios also compare the canonical JSON of the recorded trace
// with testdata/golden/<name>.golden.
package harness
