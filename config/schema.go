package config

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// documentSchema constrains a single configuration document. Every field is
// optional because modules contribute partial documents; definitions are
// closed so misspelled keys are rejected.
const documentSchema = `
#Slot: int & >=1 & <=11

#Pixel: [number, number, number]

#Document: {
	name?:        string
	description?: string
	modules?: [...(string | {path: string, name?: string, description?: string})]
	logging?: {
		level?:  "" | "trace" | "debug" | "info" | "warn" | "error" | "fatal" | "panic" | "disabled"
		format?: "" | "json" | "text"
		loki?: {
			enabled?: bool
			url?:     string
			labels?: {[string]: string}
		}
	}
	telemetry?: {
		enabled?:  bool
		provider?: string
		listen?:   string
	}
	journal?: {
		enabled?: bool
		path?:    string
	}
	events?: {
		enabled?:         bool
		broker?:          string
		client_id?:       string
		topic_prefix?:    string
		qos?:             int & >=0 & <=2
		retain?:          bool
		username?:        string
		password?:        string
		connect_timeout?: string
	}
	instrument?: {
		driver?:     string
		model?:      string
		mount?:      "left" | "right"
		max_volume?: number & >0
		single_channel?: {
			enabled?:           bool
			reverse_tip_order?: bool
			presses?:           int & >=1
			min_y?:             number
		}
		modbus?: {
			address?:        string
			unit_id?:        int & >=0 & <=247
			timeout?:        string
			poll_interval?:  string
			action_timeout?: string
		}
	}
	tip_racks?: [...{
		load_name: string
		slot:      #Slot
	}]
	palette?: {
		load_name?: string
		slot?:      #Slot
	}
	canvases?: [...{
		title:      string
		load_name?: string
		slot:       #Slot
	}]
	distribution?: {
		dose?:               number & >0
		disposal_volume?:    number & >=0
		batch_limit?:        int & >=1
		// Default false: a refill keeps the held tip and only the batch
		// ceiling forces a new one. Set true to pick up a fresh tip on
		// every refill. 50 pixels of 0.4 ul on a p20: false aspirates 20 then
		// 2 with one tip, true aspirates 20 then 4 with two tips.
		new_tip_per_refill?: bool
		touch_tip?: {
			mode?:      "below_dose" | "always" | "never" | "expression"
			threshold?: number & >0
			v_offset?:  number
			when?:      string
		}
	}
	reagents?: [...{
		id:    string
		name?: string
		well?: string
		dose?: number & >0
	}]
	artwork?: [...{
		reagent: string
		pieces: [...{
			canvas: string
			pixels: [...#Pixel] | #Pixel
		}]
	}]
}
`

var (
	schemaOnce sync.Once
	schemaMu   sync.Mutex
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		compiled := schemaCtx.CompileString(documentSchema, cue.Filename("artbot-schema.cue"))
		if err := compiled.Err(); err != nil {
			schemaErr = fmt.Errorf("compile config schema: %w", err)
			return
		}
		schemaDef = compiled.LookupPath(cue.ParsePath("#Document"))
		if err := schemaDef.Err(); err != nil {
			schemaErr = fmt.Errorf("lookup config schema: %w", err)
		}
	})
	return schemaCtx, schemaDef, schemaErr
}

// validateDocument checks a decoded YAML document against the schema.
func validateDocument(path string, document interface{}) error {
	ctx, def, err := loadSchema()
	if err != nil {
		return err
	}
	// cue.Context is not safe for concurrent use.
	schemaMu.Lock()
	defer schemaMu.Unlock()

	value := ctx.Encode(document)
	if err := value.Err(); err != nil {
		return fmt.Errorf("config %s: encode document: %w", path, err)
	}
	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		details := strings.TrimSpace(cueerrors.Details(err, nil))
		return fmt.Errorf("config %s: schema violation:\n%s", path, details)
	}
	return nil
}
