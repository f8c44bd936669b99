package lib

type Set map[string]struct{}

func NewSet() Set {
	s := make(map[string]struct{})
	return Set(s)
}

func (s Set) Add(value ...string) {
	for _, v := range value {
		s[v] = struct{}{}
	}
}

func (s Set) Contains(value string) bool {
	_, c := s[value]
	return c
}

func (s Set) Len() int {
	return len(s)
}
