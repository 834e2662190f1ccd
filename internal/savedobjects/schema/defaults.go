package schema

import "github.com/ubuntu/anomaly-explorer/internal/savedobjects/mappings"

// JobType is the saved object type holding anomaly detection job configurations.
const JobType = "ml-job"

func defaultTypes() []TypeDefinition {
	text := func() mappings.FieldMapping {
		return mappings.FieldMapping{
			Type:   "text",
			Fields: map[string]mappings.FieldMapping{"keyword": {Type: "keyword"}},
		}
	}
	keyword := mappings.FieldMapping{Type: "keyword"}

	return []TypeDefinition{
		{
			Name: "dashboard",
			Mappings: map[string]mappings.FieldMapping{
				"title":       text(),
				"description": {Type: "text"},
				"panelsJSON":  {Type: "text"},
				"timeRestore": {Type: "boolean"},
				"version":     {Type: "integer"},
			},
		},
		{
			Name: "visualization",
			Mappings: map[string]mappings.FieldMapping{
				"title":       text(),
				"description": {Type: "text"},
				"visState":    {Type: "text"},
				"version":     {Type: "integer"},
			},
		},
		{
			Name: "search",
			Mappings: map[string]mappings.FieldMapping{
				"title":       text(),
				"description": {Type: "text"},
				"columns":     keyword,
				"sort":        keyword,
				"version":     {Type: "integer"},
			},
		},
		{
			Name: "index-pattern",
			Mappings: map[string]mappings.FieldMapping{
				"title":         text(),
				"timeFieldName": keyword,
				"fields":        {Type: "text"},
			},
		},
		{
			Name:              "config",
			NamespaceAgnostic: true,
			Mappings: map[string]mappings.FieldMapping{
				"buildNum":                keyword,
				"dateFormat:tz":           keyword,
				"defaultIndex":            keyword,
				"timepicker:timeDefaults": keyword,
			},
		},
		{
			Name: JobType,
			Mappings: map[string]mappings.FieldMapping{
				"job_id":      keyword,
				"description": {Type: "text"},
				"groups":      keyword,
				"bucket_span": keyword,
				"influencers": keyword,
			},
		},
	}
}
