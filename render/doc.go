/*
Package render provides the renderers applied to the fetched pages:

  - Block extracts the content of a block marked with
    <!--$beginblock$name$--> and <!--$endblock$name$-->.
  - Template extracts a template marked with <!--$begintemplate$name$-->
    and replaces its <!--$beginparam$key$--> regions.
  - Replace applies ordered regular expression rules.
  - Fixup rewrites the URLs of the backend into URLs of the gateway.
  - XPath and Stylesheet select and transform parts of an HTML page.

Missing blocks and templates are not errors, they render empty.
*/
package render
