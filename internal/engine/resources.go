package engine

import (
	"context"
	"fmt"

	"github.com/artpar/ringside/internal/core/domain"
)

// Command names dispatched by the bookings state machine.
const (
	CmdBookingCompleted = "BookingCompleted"
	CmdBookingFailed    = "BookingFailed"
)

// Schema returns all resource definitions for ringside, parents before children.
// This is the single source of truth: migrations, API, admin forms and the store are derived from it.
func Schema() []Resource {
	return []Resource{
		VenueResource(),
		FighterResource(),
		EventResource(),
		CourseResource(),
		ProductResource(),
		PostResource(),
		BookingResource(),
	}
}

// slugFrom computes a slug from the source field unless one was given.
// Titles without ASCII letters fall back to the reference id.
func slugFrom(source string) func(row map[string]any) any {
	return func(row map[string]any) any {
		if s := domain.Slugify(strVal(row["slug"])); s != "" {
			return s
		}
		if s := domain.Slugify(strVal(row[source])); s != "" {
			return s
		}
		return strVal(row["reference_id"])
	}
}

func slugField(source string) Field {
	return StringField("slug").WithUnique().WithComputed(slugFrom(source)).
		WithHelp("Leave empty to derive from the " + source + ".")
}

func currencyField() Field {
	return StringField("currency").WithRequired().WithDefault("THB").WithChoices(domain.Currencies...)
}

var activeOnly = []Filter{Eq("active", true)}

func VenueResource() Resource {
	return Resource{
		Name:       "venues",
		RefPrefix:  "ven_",
		TitleField: "name",
		PublicRead: true,
		Fields: []Field{
			StringField("name").WithRequired().WithMaxLen(120),
			slugField("name"),
			StringField("city").WithRequired(),
			StringField("province").WithNullable(),
			StringField("address").WithNullable(),
			TextField("description").WithNullable(),
			StringField("image_url").WithUpload().WithLabel("Image"),
			IntField("capacity").WithMin(0).WithDefault(0),
			BoolField("active").WithDefault(true),
		},
		Toggles:       []string{"active"},
		Searchable:    []string{"name", "city", "province"},
		DefaultSort:   "name",
		PublicFilters: activeOnly,
		BeforeDelete:  refuseIfReferenced("venues", "events", "courses"),
	}
}

func FighterResource() Resource {
	return Resource{
		Name:       "fighters",
		RefPrefix:  "ftr_",
		TitleField: "name",
		PublicRead: true,
		Fields: []Field{
			StringField("name").WithRequired().WithMaxLen(120),
			StringField("nickname").WithNullable(),
			slugField("name"),
			StringField("gym").WithNullable(),
			StringField("weight_class").WithNullable().WithChoices(
				"mini flyweight", "flyweight", "bantamweight", "featherweight",
				"lightweight", "welterweight", "middleweight", "heavyweight"),
			IntField("wins").WithMin(0).WithDefault(0),
			IntField("losses").WithMin(0).WithDefault(0),
			IntField("draws").WithMin(0).WithDefault(0),
			StringField("nationality").WithNullable(),
			TextField("bio").WithNullable(),
			StringField("image_url").WithUpload().WithLabel("Photo"),
			BoolField("featured").WithDefault(false),
			BoolField("active").WithDefault(true),
		},
		Toggles:       []string{"featured", "active"},
		Searchable:    []string{"name", "nickname", "gym"},
		DefaultSort:   "name",
		PublicFilters: activeOnly,
	}
}

func EventResource() Resource {
	return Resource{
		Name:       "events",
		RefPrefix:  "evt_",
		TitleField: "title",
		PublicRead: true,
		Fields: []Field{
			StringField("title").WithRequired().WithMaxLen(160),
			slugField("title"),
			RefField("venue_id", "venues").WithRequired().WithLabel("Venue"),
			TimestampField("starts_at").WithRequired(),
			TextField("description").WithNullable(),
			StringField("image_url").WithUpload().WithLabel("Poster"),
			MoneyField("price_cents").WithRequired().WithMin(0).WithLabel("Price"),
			currencyField(),
			IntField("seats_total").WithMin(0).WithDefault(0).WithHelp("0 means unlimited."),
			IntField("seats_sold").WithMin(0).WithDefault(0).WithInternal(),
			BoolField("published").WithDefault(false),
		},
		Toggles:       []string{"published"},
		Searchable:    []string{"title", "description"},
		DefaultSort:   "-starts_at",
		PublicFilters: []Filter{Eq("published", true)},
	}
}

func CourseResource() Resource {
	return Resource{
		Name:       "courses",
		RefPrefix:  "crs_",
		TitleField: "title",
		PublicRead: true,
		Fields: []Field{
			StringField("title").WithRequired().WithMaxLen(160),
			slugField("title"),
			RefField("venue_id", "venues").WithRequired().WithLabel("Venue"),
			StringField("level").WithRequired().WithDefault("beginner").
				WithChoices("beginner", "intermediate", "advanced", "fighter"),
			IntField("duration_days").WithMin(1).WithDefault(1),
			MoneyField("price_cents").WithRequired().WithMin(0).WithLabel("Price"),
			currencyField(),
			IntField("seats_total").WithMin(0).WithDefault(0).WithHelp("0 means unlimited."),
			IntField("seats_sold").WithMin(0).WithDefault(0).WithInternal(),
			TextField("description").WithNullable(),
			StringField("image_url").WithUpload().WithLabel("Image"),
			BoolField("active").WithDefault(true),
		},
		Toggles:       []string{"active"},
		Searchable:    []string{"title", "level"},
		DefaultSort:   "title",
		PublicFilters: activeOnly,
	}
}

func ProductResource() Resource {
	return Resource{
		Name:       "products",
		RefPrefix:  "prd_",
		TitleField: "name",
		PublicRead: true,
		Fields: []Field{
			StringField("name").WithRequired().WithMaxLen(160),
			slugField("name"),
			StringField("sku").WithRequired().WithUnique().WithPattern(`^[A-Z0-9\-]+$`).WithLabel("SKU"),
			MoneyField("price_cents").WithRequired().WithMin(0).WithLabel("Price"),
			currencyField(),
			IntField("stock").WithMin(0).WithDefault(0),
			TextField("description").WithNullable(),
			StringField("image_url").WithUpload().WithLabel("Image"),
			BoolField("active").WithDefault(true),
		},
		Toggles:       []string{"active"},
		Searchable:    []string{"name", "sku"},
		DefaultSort:   "name",
		PublicFilters: activeOnly,
	}
}

func PostResource() Resource {
	return Resource{
		Name:       "posts",
		RefPrefix:  "pst_",
		TitleField: "title",
		PublicRead: true,
		Fields: []Field{
			StringField("title").WithRequired().WithMaxLen(200),
			slugField("title"),
			StringField("excerpt").WithNullable().WithMaxLen(300),
			TextField("body").WithRequired(),
			StringField("cover_image_url").WithUpload().WithLabel("Cover image"),
			StringField("author").WithNullable(),
			BoolField("published").WithDefault(false),
			TimestampField("published_at"),
		},
		Toggles:       []string{"published"},
		Searchable:    []string{"title", "excerpt", "author"},
		DefaultSort:   "-published_at",
		PublicFilters: []Filter{Eq("published", true)},
		BeforeUpdate:  stampPublishedAt,
		BeforeCreate: func(ctx context.Context, s *Store, data map[string]any) error {
			return stampPublishedAt(ctx, s, nil, data)
		},
	}
}

// BookingResource holds checkout bookings. The status column is the payment status flag.
func BookingResource() Resource {
	pending := string(domain.BookingPending)
	processing := string(domain.BookingProcessing)
	completed := string(domain.BookingCompleted)
	failed := string(domain.BookingFailed)

	return Resource{
		Name:       "bookings",
		RefPrefix:  "bk_",
		TitleField: "item_title",
		Fields: []Field{
			StringField("item_type").WithRequired().WithChoices(domain.ItemTypes...),
			SoftRefField("item_id", "").WithRequired().WithLabel("Item"),
			StringField("item_title").WithNullable(),
			IntField("quantity").WithRequired().WithMin(1).WithMax(20).WithDefault(1),
			StringField("customer_name").WithRequired().WithMaxLen(120),
			StringField("customer_email").WithRequired().WithPattern(`^[^@\s]+@[^@\s]+\.[^@\s]+$`),
			StringField("customer_phone").WithNullable(),
			MoneyField("amount_cents").WithRequired().WithMin(0).WithLabel("Amount"),
			currencyField(),
			StringField("provider").WithRequired().WithChoices(domain.Providers...),
			StringField("provider_ref").WithNullable(),
			StringField("payment_url").WithNullable(),
			StringField("status").WithDefault(pending).WithChoices(pending, processing, completed, failed).WithInternal(),
			StringField("error_message").WithNullable(),
			TimestampField("paid_at").WithInternal(),
		},
		StateMachine: &StateMachine{
			Field:   "status",
			Initial: pending,
			Transitions: map[string][]string{
				pending:    {processing, failed},
				processing: {completed, failed},
				failed:     {pending},
				completed:  {},
			},
			OnEnter: map[string]string{
				completed: CmdBookingCompleted,
				failed:    CmdBookingFailed,
			},
		},
		Searchable:  []string{"customer_name", "customer_email", "item_title", "reference_id", "provider_ref"},
		DefaultSort: "-created_at",
		BeforeDelete: func(_ context.Context, _ *Store, row map[string]any) error {
			if domain.BookingStatus(strVal(row["status"])) == domain.BookingCompleted {
				return fmt.Errorf("%w: completed bookings cannot be deleted", ErrConflict)
			}
			return nil
		},
	}
}

// stampPublishedAt sets published_at the first time a post is published.
func stampPublishedAt(_ context.Context, s *Store, existing, changes map[string]any) error {
	published, _ := coerceValue(Field{Name: "published", Type: TypeBool}, changes["published"])
	if published != true {
		return nil
	}
	if existing != nil && existing["published_at"] != nil {
		return nil
	}
	if !isEmpty(changes["published_at"]) {
		return nil
	}
	changes["published_at"] = s.Now()
	return nil
}

// refuseIfReferenced blocks deleting a row that child tables still point at.
func refuseIfReferenced(parent string, children ...string) BeforeDeleteFunc {
	return func(ctx context.Context, s *Store, row map[string]any) error {
		id, _ := toInt64(row["id"])
		for _, child := range children {
			res := s.Resource(child)
			if res == nil {
				continue
			}
			for _, f := range res.Fields {
				if f.Type != TypeRef || f.RefTable != parent {
					continue
				}
				n, err := s.Count(ctx, child, Eq(f.Name, id))
				if err != nil {
					return err
				}
				if n > 0 {
					return fmt.Errorf("%w: still used by %d %s", ErrConflict, n, child)
				}
			}
		}
		return nil
	}
}
