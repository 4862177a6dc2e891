package cluster_test

import (
	"strings"
	"testing"

	"github.com/sievelab/podgen/pkg/domain/k8s/cluster"
	"github.com/sievelab/podgen/pkg/utils/cmp"
)

type FakeSelector string

func (fs FakeSelector) QueryString(key string) string {
	return key + ":" + string(fs)
}

func (fs FakeSelector) Equal(s cluster.SelectorElement) bool {
	switch t := s.(type) {
	case FakeSelector:
		return t == fs
	default:
		return false
	}
}

func TestLabelSelector(t *testing.T) {
	t.Run("when empty LabelSelector is built, it makes empty", func(t *testing.T) {
		testee := cluster.LabelSelector{}
		if testee.QueryString() != "" {
			t.Errorf(`not match: "%s" is not empty`, testee.QueryString())
		}
	})

	t.Run("when LabelSelector is not empty,", func(t *testing.T) {
		testee := cluster.LabelSelector{
			"foo":  FakeSelector("bar"),
			"fizz": FakeSelector("bazz"),
			"aaa":  FakeSelector("bbb"),
		}

		t.Run("its QueryString should be comma-separated QueryStrings of selectors", func(t *testing.T) {
			actual := testee.QueryString()
			expected := []string{
				"foo:bar", "fizz:bazz", "aaa:bbb",
			}

			if !cmp.SliceContentEq(strings.Split(actual, ","), expected) {
				t.Error("not match: actual =", actual)
			}
		})
	})
}

func TestEqualityBasedSelector(t *testing.T) {
	for name, testcase := range map[string]struct {
		when string
		then string
	}{
		`when its value is not started with =, == nor !=, it should mean "equality"`: {
			when: "value1", then: "label=value1",
		},
		`when its value is started with =, it should mean "equality"`: {
			when: "=value2", then: "label=value2",
		},
		`when its value is started with ==, it should mean "equality"`: {
			when: "==value3", then: "label=value3",
		},
		`when its value is started with !=, it should mean "inequality"`: {
			when: "!=value4", then: "label!=value4",
		},
	} {
		t.Run(name, func(t *testing.T) {
			actual := cluster.EqualityBased(testcase.when).QueryString("label")
			if actual != testcase.then {
				t.Errorf(
					"not match: (actual, expected) = (`%s`, `%s`)",
					actual, testcase.then,
				)
			}
		})
	}

	t.Run("Eq and NotEq normalize their values", func(t *testing.T) {
		if actual := cluster.Eq("value").QueryString("label"); actual != "label=value" {
			t.Errorf("Eq: got %s", actual)
		}
		if actual := cluster.NotEq("value").QueryString("label"); actual != "label!=value" {
			t.Errorf("NotEq: got %s", actual)
		}
	})

	t.Run("selectors with the same meaning are equal", func(t *testing.T) {
		for _, same := range []cluster.EqualityBased{"value", "=value", "==value"} {
			if !cluster.Eq("value").Equal(same) {
				t.Errorf("Eq(value) != %q", string(same))
			}
		}
		for _, other := range []cluster.EqualityBased{"other", "!=value"} {
			if cluster.Eq("value").Equal(other) {
				t.Errorf("Eq(value) == %q", string(other))
			}
		}
	})
}

func TestLabelsToSelector(t *testing.T) {
	t.Run("it converts a label map to an equality selector", func(t *testing.T) {
		testee := cluster.LabelsToSelector(map[string]string{
			"app.kubernetes.io/managed-by": "podgen",
			"podgen/kind":                  "sieve",
		})

		actual := strings.Split(testee.QueryString(), ",")
		expected := []string{
			"app.kubernetes.io/managed-by=podgen",
			"podgen/kind=sieve",
		}
		if !cmp.SliceContentEq(actual, expected) {
			t.Error("not match: actual =", actual)
		}
	})
}
