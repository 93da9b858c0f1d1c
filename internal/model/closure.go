package model

import "github.com/fluxdag/fluxdag/internal/ipld"

// InstructionTemplate is a named, reusable instruction shape that a caller
// can parameterize with different inputs before constructing a Task,
// supplementing spec.md with the homestar "workflow closure" feature: the
// resource and ability are fixed, and Close substitutes the input.
type InstructionTemplate struct {
	Name     string
	Resource Resource
	Ability  string
}

// Close binds input to the template, producing a concrete Instruction. The
// nonce, if non-empty, is forwarded so repeated closures over the same
// template+input can still be distinguished in one workflow.
func Close(tmpl InstructionTemplate, input Input, nonce []byte) Instruction {
	return Instruction{
		Resource: tmpl.Resource,
		Ability:  tmpl.Ability,
		Input:    input,
		Nonce:    nonce,
	}
}

// CloseArg is a convenience over Close for the common case of a raw IPLD
// argument list.
func CloseArg(tmpl InstructionTemplate, args ...ipld.Value) Instruction {
	return Close(tmpl, NewIPLDInput(ipld.List(args...)), nil)
}
