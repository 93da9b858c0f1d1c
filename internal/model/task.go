package model

import (
	"fmt"
	"time"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

// ResourceConfig caps the fuel (execution steps) and wall-clock time a
// task's Wasm invocation may consume.
type ResourceConfig struct {
	Fuel     uint64
	TimeCap  time.Duration
}

func (rc ResourceConfig) ToIPLD() ipld.Value {
	return ipld.Map(map[string]ipld.Value{
		"fuel": ipld.Int(int64(rc.Fuel)),
		"time": ipld.Int(int64(rc.TimeCap)),
	})
}

func ResourceConfigFromIPLD(v ipld.Value) (ResourceConfig, error) {
	fuelV, ok := v.MapGet("fuel")
	if !ok {
		return ResourceConfig{}, fmt.Errorf("%w: resource config missing fuel", ErrMissingField)
	}
	timeV, ok := v.MapGet("time")
	if !ok {
		return ResourceConfig{}, fmt.Errorf("%w: resource config missing time", ErrMissingField)
	}
	return ResourceConfig{Fuel: uint64(fuelV.AsInt()), TimeCap: time.Duration(timeV.AsInt())}, nil
}

// Task is one scheduled unit of work: an instruction (held inline or by CID
// link), resource caps, and a UCAN proof chain. Tasks are distinguishable
// by instruction CID + config + proofs.
type Task struct {
	Instruction     *Instruction
	InstructionLink ipld.CID
	Config          ResourceConfig
	Proofs          []ipld.CID
}

// NewInlineTask builds a Task carrying its instruction inline.
func NewInlineTask(ins Instruction, cfg ResourceConfig, proofs ...ipld.CID) Task {
	i := ins
	return Task{Instruction: &i, Config: cfg, Proofs: proofs}
}

// NewLinkedTask builds a Task that only references an instruction by CID,
// for reuse across workflows without re-encoding the instruction.
func NewLinkedTask(link ipld.CID, cfg ResourceConfig, proofs ...ipld.CID) Task {
	return Task{InstructionLink: link, Config: cfg, Proofs: proofs}
}

// InstructionCID returns the CID identifying this task's instruction,
// computing it from the inline instruction if present.
func (t Task) InstructionCID() (ipld.CID, error) {
	if t.Instruction != nil {
		return t.Instruction.CID()
	}
	if !t.InstructionLink.IsZero() {
		return t.InstructionLink, nil
	}
	return ipld.CID{}, ErrInstructionRef
}

func (t Task) ToIPLD() (ipld.Value, error) {
	var insV ipld.Value
	if t.Instruction != nil {
		v, err := t.Instruction.ToIPLD()
		if err != nil {
			return ipld.Value{}, err
		}
		insV = v
	} else if !t.InstructionLink.IsZero() {
		insV = ipld.Link(t.InstructionLink)
	} else {
		return ipld.Value{}, ErrInstructionRef
	}
	proofs := make([]ipld.Value, len(t.Proofs))
	for i, p := range t.Proofs {
		proofs[i] = ipld.Link(p)
	}
	return ipld.Map(map[string]ipld.Value{
		"run": insV,
		"cfg": t.Config.ToIPLD(),
		"prf": ipld.List(proofs...),
	}), nil
}

func TaskFromIPLD(v ipld.Value) (Task, error) {
	runV, ok := v.MapGet("run")
	if !ok {
		return Task{}, fmt.Errorf("%w: task missing run", ErrMissingField)
	}
	cfgV, ok := v.MapGet("cfg")
	if !ok {
		return Task{}, fmt.Errorf("%w: task missing cfg", ErrMissingField)
	}
	cfg, err := ResourceConfigFromIPLD(cfgV)
	if err != nil {
		return Task{}, err
	}
	var proofs []ipld.CID
	if prfV, ok := v.MapGet("prf"); ok {
		for _, p := range prfV.AsList() {
			if p.Kind() != ipld.KindLink {
				return Task{}, fmt.Errorf("%w: proof entry not a link", ErrUnknownVariant)
			}
			proofs = append(proofs, p.AsLink())
		}
	}
	if runV.Kind() == ipld.KindLink {
		return Task{InstructionLink: runV.AsLink(), Config: cfg, Proofs: proofs}, nil
	}
	ins, err := InstructionFromIPLD(runV)
	if err != nil {
		return Task{}, err
	}
	return Task{Instruction: &ins, Config: cfg, Proofs: proofs}, nil
}
