package contract

// RegisterBase registers the v1 envelope schemas. The coordinator requires a
// prompt at every stage; specialists also accept the delegation payload the
// engine hands them ("content" plus open metadata).
func RegisterBase(r *Registry, specialists ...AgentType) error {
	for _, stage := range AllStages() {
		err := r.Register(Schema{
			Version:   CurrentSchemaVersion,
			AgentType: Coordinator,
			Stage:     stage,
			Required:  []string{"prompt"},
			Types:     map[string]FieldKind{"prompt": KindString},
		})
		if err != nil {
			return err
		}

		for _, specialist := range specialists {
			err := r.Register(Schema{
				Version:   CurrentSchemaVersion,
				AgentType: specialist,
				Stage:     stage,
				Optional:  []string{"prompt", "content"},
				Types: map[string]FieldKind{
					"prompt":  KindString,
					"content": KindString,
				},
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
