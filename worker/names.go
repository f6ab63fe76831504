// Package worker contains the concrete workers of the coaching mesh and the
// default registry wiring. Content generation inside a worker is an opaque
// capability reached through model.Generator; the routing behavior in this
// package is what the scheduler exercises.
package worker

import (
	"github.com/hupe1980/coachmesh/capability"
	"github.com/hupe1980/coachmesh/model"
	"github.com/hupe1980/coachmesh/registry"
)

// Worker names of the fixed mesh topology.
const (
	GuardrailName        = "Guardrail"
	PlannerName          = "Planner"
	PhysicianName        = "Physician"
	NutritionistName     = "Nutritionist"
	FitnessCoachName     = "FitnessCoach"
	SleepDoctorName      = "SleepDoctor"
	MindfulnessCoachName = "MindfulnessCoach"
	SynthesisName        = "Synthesis"
)

// Specialist domains tracked for plan completion.
const (
	DomainMedical     = "medical"
	DomainNutrition   = "nutrition"
	DomainFitness     = "fitness"
	DomainSleep       = "sleep"
	DomainMindfulness = "mindfulness"
)

// DefaultMesh wires the full coaching mesh into a registry: guardrail,
// planner, five specialists and the terminal synthesizer. The caller is the
// external data boundary; gen may be nil for offline synthesis.
func DefaultMesh(caller capability.Caller, gen model.Generator) (*registry.Registry, error) {
	reg := registry.New(func(o *registry.Options) {
		o.Safety = GuardrailName
		o.Synthesis = SynthesisName
		o.Triage = PlannerName
	})

	entries := []registry.Entry{
		{
			Worker:      NewGuardrail(),
			Description: "Safety screening, emergency detection, wellbeing triage.",
		},
		{
			Worker:      NewPlanner(reg),
			Description: "Routing, plan offers, coordinating the specialist mesh.",
		},
		{
			Worker: NewSpecialist(PhysicianName, DomainMedical, caller,
				WithCalls(Call{Name: "get_biomarkers"}),
				WithWidgetType("biomarker_panel"),
				// The physician routes to lifestyle specialists by default so
				// the user always receives actionable follow-ups.
				WithNext(NutritionistName, FitnessCoachName),
			),
			Domain:      DomainMedical,
			Description: "Medical analysis, biomarker interpretation, identifying health risks.",
		},
		{
			Worker: NewSpecialist(NutritionistName, DomainNutrition, caller,
				WithCalls(Call{Name: "get_food_journal"}, Call{Name: "get_biomarker_ranges"}),
				WithWidgetType("meal_plan"),
			),
			Domain:      DomainNutrition,
			Speculative: true,
			Description: "Dietary planning, food journal analysis, macronutrient advice.",
		},
		{
			Worker: NewSpecialist(FitnessCoachName, DomainFitness, caller,
				WithCalls(Call{Name: "get_activity_log"}),
				WithWidgetType("workout_plan"),
			),
			Domain:      DomainFitness,
			Speculative: true,
			Description: "Workout plans, exercise routines, activity analysis.",
		},
		{
			Worker: NewSpecialist(SleepDoctorName, DomainSleep, caller,
				WithCalls(Call{Name: "get_sleep_stages"}),
				WithWidgetType("sleep_report"),
			),
			Domain:      DomainSleep,
			Speculative: true,
			Description: "Sleep hygiene, sleep stage analysis, improving sleep quality.",
		},
		{
			Worker: NewSpecialist(MindfulnessCoachName, DomainMindfulness, caller,
				WithCalls(Call{Name: "get_stress_profile"}),
			),
			Domain:      DomainMindfulness,
			Speculative: true,
			Description: "Stress reduction, meditation, mental wellness.",
		},
		{
			Worker:      NewSynthesis(gen),
			Description: "Final synthesis, safety check, formatting the response for the user.",
		},
	}

	for _, e := range entries {
		if err := reg.Register(e); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
