/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package postprocess holds the hooks that run after every sync pass.
package postprocess

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultProcedure rebuilds the reporting layer from the loaded tables.
const DefaultProcedure = "silver_lands.silver_lands_data.run_master_queries()"

// ProcedureCaller invokes a stored procedure.
type ProcedureCaller interface {
	CallProcedure(ctx context.Context, name string) error
}

// Procedure calls a warehouse stored procedure.
type Procedure struct {
	caller ProcedureCaller
	name   string
	log    *zap.SugaredLogger
}

// NewProcedure returns a hook calling name through caller. It returns nil
// when name is empty.
func NewProcedure(caller ProcedureCaller, name string, log *zap.SugaredLogger) *Procedure {
	if name == "" {
		return nil
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Procedure{caller: caller, name: name, log: log}
}

// Name implements pipeline.Hook.
func (p *Procedure) Name() string { return "procedure" }

// Run calls the procedure.
func (p *Procedure) Run(ctx context.Context) error {
	if p.caller == nil {
		return errors.New("procedure: no warehouse")
	}
	p.log.Infow("calling stored procedure", "procedure", p.name)
	if err := p.caller.CallProcedure(ctx, p.name); err != nil {
		return fmt.Errorf("call %s: %w", p.name, err)
	}
	p.log.Infow("stored procedure completed", "procedure", p.name)
	return nil
}
