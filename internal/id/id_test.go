package id

import "testing"

func TestChatIsSpecial(t *testing.T) {
	tests := []struct {
		id   Chat
		want bool
	}{
		{ChatNone, false},
		{ChatTrash, true},
		{ChatArchivedLink, true},
		{ChatAllDoneHint, true},
		{ChatLastSpecial, true},
		{ChatLastSpecial + 1, false},
		{42, false},
	}
	for _, tt := range tests {
		if got := tt.id.IsSpecial(); got != tt.want {
			t.Errorf("Chat(%d).IsSpecial() = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestContactIsSpecial(t *testing.T) {
	tests := []struct {
		id   Contact
		want bool
	}{
		{ContactNone, false},
		{ContactSelf, true},
		{ContactInfo, true},
		{ContactDevice, true},
		{ContactLastSpecial, true},
		{ContactLastSpecial + 1, false},
	}
	for _, tt := range tests {
		if got := tt.id.IsSpecial(); got != tt.want {
			t.Errorf("Contact(%d).IsSpecial() = %v, want %v", tt.id, got, tt.want)
		}
	}
}
