package topology

import "strings"

// MatchRoutingKey reports whether key matches an AMQP topic binding pattern.
// Words are dot separated; "*" matches exactly one word and "#" zero or more.
func MatchRoutingKey(pattern, key string) bool {
	if pattern == "#" {
		return true
	}
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			rest := pattern[1:]
			for i := 0; i <= len(key); i++ {
				if matchWords(rest, key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}

// Routes resolves the queues a message published to exchange with routingKey
// lands in, following the exchange kind's matching rules.
func (t Topology) Routes(exchange, routingKey string) []string {
	ex, ok := t.FindExchange(exchange)
	if !ok {
		return nil
	}
	var out []string
	for _, q := range t.Queues {
		for _, b := range q.Bindings {
			if b.Exchange != exchange {
				continue
			}
			if bindingMatches(ex.Kind, b.Pattern, routingKey) {
				out = append(out, q.Name)
				break
			}
		}
	}
	return out
}

func bindingMatches(kind ExchangeKind, pattern, key string) bool {
	switch kind {
	case KindFanout:
		return true
	case KindDirect:
		return pattern == key
	default:
		return MatchRoutingKey(pattern, key)
	}
}
