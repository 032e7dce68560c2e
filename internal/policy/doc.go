// Package policy implements the policy data model, its stores and the
// decision evaluator.
//
// Evaluation is default-deny with deny-overrides: the highest-priority
// matching rule wins, owning-policy priority breaks rule-priority ties,
// and a DENY rule beats an ALLOW rule at equal priority. An empty
// candidate set or any store failure denies. The evaluator never fails
// open.
package policy
