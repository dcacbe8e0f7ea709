package registry

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coach-intake/internal/model"
	"github.com/sells-group/coach-intake/pkg/notion"
)

// LoadFieldRegistry queries the Notion intake-field database for all active
// fields and returns an indexed FieldRegistry. Malformed pages are skipped
// with a warning so one bad row cannot take down startup.
func LoadFieldRegistry(ctx context.Context, client notion.Client, dbID string) (*model.FieldRegistry, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status: &notionapi.StatusFilterCondition{
				Equals: "Active",
			},
		},
	}

	pages, err := notion.QueryAll(ctx, client, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "registry: load field registry")
	}

	var fields []model.Field
	for _, p := range pages {
		f, err := parseFieldPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed field page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		fields = append(fields, f)
	}

	if len(fields) == 0 {
		return nil, eris.New("registry: notion field database returned no usable fields")
	}

	return model.NewFieldRegistry(fields), nil
}

func parseFieldPage(p notionapi.Page) (model.Field, error) {
	var f model.Field

	// Key (title)
	if prop, ok := p.Properties["Key"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			f.Key = notion.PlainText(tp.Title)
		}
	}

	// Label (rich_text)
	if prop, ok := p.Properties["Label"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			f.Label = notion.PlainText(rtp.RichText)
		}
	}

	// Type (select)
	if prop, ok := p.Properties["Type"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			f.Type = model.FieldType(sp.Select.Name)
		}
	}

	// Required (checkbox)
	if prop, ok := p.Properties["Required"]; ok {
		if cp, ok := prop.(*notionapi.CheckboxProperty); ok {
			f.Required = cp.Checkbox
		}
	}

	// Group (number)
	if prop, ok := p.Properties["Group"]; ok {
		if np, ok := prop.(*notionapi.NumberProperty); ok {
			f.Group = model.FieldGroup(int(np.Number))
		}
	}

	// Hint (rich_text)
	if prop, ok := p.Properties["Hint"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			f.Hint = notion.PlainText(rtp.RichText)
		}
	}

	if f.Key == "" {
		return f, eris.New("missing Key property")
	}
	if f.Group == 0 {
		f.Group = model.GroupStyle
	}

	return f, nil
}
