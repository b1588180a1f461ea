// Package teleprompt is a Go framework for building programs whose steps
// are language-model calls, and for automatically improving those programs
// by searching over demonstrations and instructions with measured task
// performance as the reward signal.
//
// Key components:
//
//   - Core: Example, Prediction, the Program execution contract, and
//     OptimizedProgram for composing learned state over a base program.
//
//   - Evaluate: a concurrent, fault-isolated harness that scores a program
//     against a dataset. A failing, timing-out, or panicking execution is
//     normalized into a failure score; one bad API call never aborts a run.
//
//   - Optimizers: teleprompters that search for better program
//     configurations:
//
//   - BootstrapFewShot: one-shot demonstration generation from a teacher
//     program, filtered by a quality threshold.
//
//   - SIMBA: iterative stochastic mini-batch hill climbing over a pool of
//     candidate programs, using softmax-weighted candidate selection and
//     pluggable mutation strategies (demo promotion, instruction rules).
//
//   - Predict: a minimal leaf predictor binding an LM client to the Program
//     contract, with few-shot demonstrations and instruction text.
//
//   - Supporting packages: llms (Anthropic client), cache (keyed prediction
//     cache, memory and SQLite backends), datasets (in-memory and Parquet),
//     metrics (exact match, F1), config (YAML + validation), logging.
package teleprompt
