package convert

// ToStringWithDefault returns value when it is a non-empty string or points to one, otherwise defaultValue.
func ToStringWithDefault(value any, defaultValue string) string {
	switch v := value.(type) {
	case string:
		if v != "" {
			return v
		}
	case *string:
		if v != nil && *v != "" {
			return *v
		}
	}

	return defaultValue
}
