package model

import (
	"slices"
	"time"
)

// Category is the grocery aisle tag an item is filed under.
type Category string

const (
	CategoryProduce      Category = "Produce"
	CategoryDairy        Category = "Dairy"
	CategoryMeatSeafood  Category = "Meat & Seafood"
	CategoryBakery       Category = "Bakery"
	CategoryPantry       Category = "Pantry"
	CategoryFrozen       Category = "Frozen"
	CategoryBeverages    Category = "Beverages"
	CategorySnacks       Category = "Snacks"
	CategoryHousehold    Category = "Household"
	CategoryPersonalCare Category = "Personal Care"
	CategoryOther        Category = "Other"
)

// ListMeta is the list-level view kept in the registry of known lists.
type ListMeta struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Archived bool   `json:"archived,omitempty"`
}

// List is one shared list and its items. Values are treated as immutable:
// every helper below returns a new List and leaves the receiver untouched.
type List struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Archived bool   `json:"archived,omitempty"`
	Items    []Item `json:"items"`
}

type Item struct {
	ID        string     `json:"id"`
	ListID    string     `json:"listId"`
	Name      string     `json:"name"`
	Quantity  *float64   `json:"quantity"`
	Unit      *string    `json:"unit"`
	Category  *Category  `json:"category"`
	Checked   bool       `json:"checked"`
	CheckedBy *string    `json:"checkedBy"`
	CheckedAt *time.Time `json:"checkedAt"`
	Note      *string    `json:"note"`
	SortOrder int        `json:"sortOrder"`
}

// ItemInput carries the fields of a new item.
type ItemInput struct {
	Name     string    `json:"name"`
	Quantity *float64  `json:"quantity,omitempty"`
	Unit     *string   `json:"unit,omitempty"`
	Category *Category `json:"category,omitempty"`
	Note     *string   `json:"note,omitempty"`
}

// ItemPatch carries an update. Nil fields are left unchanged.
type ItemPatch struct {
	Name     *string   `json:"name,omitempty"`
	Quantity *float64  `json:"quantity,omitempty"`
	Unit     *string   `json:"unit,omitempty"`
	Category *Category `json:"category,omitempty"`
	Note     *string   `json:"note,omitempty"`
}

// Meta returns the list-level fields of l.
func (l List) Meta() ListMeta {
	return ListMeta{ID: l.ID, Name: l.Name, Archived: l.Archived}
}

// Clone returns a copy of l whose Items slice can be changed freely.
func (l List) Clone() List {
	out := l
	out.Items = slices.Clone(l.Items)
	return out
}

// Index returns the position of the item with the given id, or -1.
func (l List) Index(itemID string) int {
	return slices.IndexFunc(l.Items, func(it Item) bool { return it.ID == itemID })
}

// Item returns the item with the given id.
func (l List) Item(itemID string) (Item, bool) {
	i := l.Index(itemID)
	if i < 0 {
		return Item{}, false
	}
	return l.Items[i], true
}

// NextSortOrder is one past the largest sort order in use.
func (l List) NextSortOrder() int {
	next := 0
	for _, it := range l.Items {
		if it.SortOrder >= next {
			next = it.SortOrder + 1
		}
	}
	return next
}

// WithItem appends item unless an item with the same id is already present.
func (l List) WithItem(item Item) List {
	if l.Index(item.ID) >= 0 {
		return l
	}
	out := l.Clone()
	out.Items = append(out.Items, item)
	return out
}

// ReplaceItem swaps the item sharing item.ID. A missing id leaves l unchanged.
func (l List) ReplaceItem(item Item) List {
	i := l.Index(item.ID)
	if i < 0 {
		return l
	}
	out := l.Clone()
	out.Items[i] = item
	return out
}

// SwapItem puts item where oldID was. If item.ID is already present the old
// entry is just dropped; if oldID is absent item is appended.
func (l List) SwapItem(oldID string, item Item) List {
	if l.Index(item.ID) >= 0 {
		return l.WithoutItems(oldID)
	}
	i := l.Index(oldID)
	if i < 0 {
		return l.WithItem(item)
	}
	out := l.Clone()
	out.Items[i] = item
	return out
}

// WithoutItems drops every item whose id is in ids.
func (l List) WithoutItems(ids ...string) List {
	out := l
	out.Items = slices.DeleteFunc(slices.Clone(l.Items), func(it Item) bool {
		return slices.Contains(ids, it.ID)
	})
	return out
}

// Reordered assigns sortOrder = index for every id in the full desired
// sequence and re-sorts the items. Items missing from the sequence keep their
// relative order after the listed ones; unknown ids are ignored.
func (l List) Reordered(ids []string) List {
	out := l.Clone()
	slices.SortStableFunc(out.Items, func(a, b Item) int { return a.SortOrder - b.SortOrder })

	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := pos[id]; !dup {
			pos[id] = i
		}
	}
	next := len(ids)
	for i := range out.Items {
		if p, ok := pos[out.Items[i].ID]; ok {
			out.Items[i].SortOrder = p
			continue
		}
		out.Items[i].SortOrder = next
		next++
	}
	slices.SortStableFunc(out.Items, func(a, b Item) int { return a.SortOrder - b.SortOrder })
	return out
}

// Order returns the item ids in slice order.
func (l List) Order() []string {
	ids := make([]string, len(l.Items))
	for i, it := range l.Items {
		ids[i] = it.ID
	}
	return ids
}

// WithChecked sets or clears the checked state. Checked, CheckedBy and
// CheckedAt always move together.
func (it Item) WithChecked(checked bool, by *string, at time.Time) Item {
	it.Checked = checked
	if !checked {
		it.CheckedBy = nil
		it.CheckedAt = nil
		return it
	}
	it.CheckedBy = by
	at = at.UTC()
	it.CheckedAt = &at
	return it
}

// Apply returns it with the non-nil fields of p written over it.
func (p ItemPatch) Apply(it Item) Item {
	if p.Name != nil {
		it.Name = *p.Name
	}
	if p.Quantity != nil {
		it.Quantity = p.Quantity
	}
	if p.Unit != nil {
		it.Unit = p.Unit
	}
	if p.Category != nil {
		it.Category = p.Category
	}
	if p.Note != nil {
		it.Note = p.Note
	}
	return it
}

// InputFrom rebuilds the add fields of an existing item, used to restore a
// deleted one.
func InputFrom(it Item) ItemInput {
	return ItemInput{
		Name:     it.Name,
		Quantity: it.Quantity,
		Unit:     it.Unit,
		Category: it.Category,
		Note:     it.Note,
	}
}

// NewItem builds the item an add is predicted to produce.
func NewItem(id, listID string, in ItemInput, sortOrder int) Item {
	return Item{
		ID:        id,
		ListID:    listID,
		Name:      in.Name,
		Quantity:  in.Quantity,
		Unit:      in.Unit,
		Category:  in.Category,
		Note:      in.Note,
		SortOrder: sortOrder,
	}
}
